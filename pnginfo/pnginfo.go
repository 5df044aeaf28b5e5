// Package pnginfo reads the embedded text metadata of PNG and JPEG images:
// PNG tEXt/zTXt/iTXt chunks, and the JPEG EXIF UserComment/ImageDescription
// tags promoted into equivalent chunk names.
package pnginfo

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// Info is the raw text metadata of one image.
type Info struct {
	Width  int
	Height int
	// Chunks maps chunk keyword to its text. For JPEG input the EXIF tags
	// are promoted into chunk names: an A1111-looking UserComment becomes
	// "parameters", anything else becomes "Description".
	Chunks map[string]string
}

// Extract reads the metadata of a PNG or JPEG stream.
func Extract(r io.Reader) (*Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return extractPNG(data)
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return extractJPEG(data)
	}
	return nil, errors.New("not a PNG or JPEG file")
}

func extractPNG(data []byte) (*Info, error) {
	info := &Info{Chunks: make(map[string]string)}
	r := bytes.NewReader(data[len(pngSignature):])

	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "IHDR":
			chunkData := make([]byte, length)
			if _, err := io.ReadFull(r, chunkData); err != nil {
				return nil, err
			}
			if length >= 8 {
				info.Width = int(binary.BigEndian.Uint32(chunkData[0:4]))
				info.Height = int(binary.BigEndian.Uint32(chunkData[4:8]))
			}
		case "tEXt":
			chunkData := make([]byte, length)
			if _, err := io.ReadFull(r, chunkData); err != nil {
				return nil, err
			}
			keyword, text, ok := splitKeyword(chunkData)
			if !ok {
				return nil, errors.New("malformed tEXt chunk")
			}
			info.Chunks[keyword] = string(text)
		case "zTXt":
			chunkData := make([]byte, length)
			if _, err := io.ReadFull(r, chunkData); err != nil {
				return nil, err
			}
			keyword, rest, ok := splitKeyword(chunkData)
			if !ok || len(rest) < 1 {
				return nil, errors.New("malformed zTXt chunk")
			}
			// rest[0] is the compression method; 0 (deflate) is the only
			// one defined.
			text, err := inflate(rest[1:])
			if err == nil {
				info.Chunks[keyword] = text
			}
		case "iTXt":
			chunkData := make([]byte, length)
			if _, err := io.ReadFull(r, chunkData); err != nil {
				return nil, err
			}
			keyword, text, err := parseITXt(chunkData)
			if err == nil {
				info.Chunks[keyword] = text
			}
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// Skip the CRC.
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
	}

	return info, nil
}

func splitKeyword(chunkData []byte) (string, []byte, bool) {
	end := bytes.IndexByte(chunkData, 0)
	if end == -1 {
		return "", nil, false
	}
	return string(chunkData[:end]), chunkData[end+1:], true
}

// parseITXt decodes an iTXt chunk: keyword, compression flag and method,
// language tag, translated keyword, then the (optionally deflated) text.
func parseITXt(chunkData []byte) (string, string, error) {
	keyword, rest, ok := splitKeyword(chunkData)
	if !ok || len(rest) < 2 {
		return "", "", errors.New("malformed iTXt chunk")
	}
	compressed := rest[0] == 1
	rest = rest[2:]

	// language tag
	if _, after, ok := splitKeyword(rest); ok {
		rest = after
	} else {
		return "", "", errors.New("malformed iTXt chunk")
	}
	// translated keyword
	if _, after, ok := splitKeyword(rest); ok {
		rest = after
	} else {
		return "", "", errors.New("malformed iTXt chunk")
	}

	if compressed {
		text, err := inflate(rest)
		if err != nil {
			return "", "", err
		}
		return keyword, text, nil
	}
	return keyword, string(rest), nil
}

func inflate(data []byte) (string, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractJPEG(data []byte) (*Info, error) {
	info := &Info{Chunks: make(map[string]string)}

	// Walk the marker segments for dimensions and the EXIF APP1 payload.
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			break
		}
		marker := data[pos+1]
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 {
			pos += 2
			continue
		}
		if marker == 0xD9 || marker == 0xDA {
			// end of image / start of scan
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if segLen < 2 || pos+2+segLen > len(data) {
			break
		}
		segment := data[pos+4 : pos+2+segLen]

		switch {
		case marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC:
			// SOFn: precision byte, then height and width
			if len(segment) >= 5 {
				info.Height = int(binary.BigEndian.Uint16(segment[1:3]))
				info.Width = int(binary.BigEndian.Uint16(segment[3:5]))
			}
		case marker == 0xE1 && bytes.HasPrefix(segment, []byte("Exif\x00\x00")):
			parseExif(segment[6:], info)
		}
		pos += 2 + segLen
	}

	return info, nil
}

const (
	tagImageDescription = 0x010E
	tagExifIFDPointer   = 0x8769
	tagUserComment      = 0x9286
)

// parseExif walks IFD0 and the Exif sub-IFD for the two description tags and
// promotes them into synthetic chunk names.
func parseExif(tiff []byte, info *Info) {
	if len(tiff) < 8 {
		return
	}
	var order binary.ByteOrder
	switch {
	case bytes.HasPrefix(tiff, []byte("II")):
		order = binary.LittleEndian
	case bytes.HasPrefix(tiff, []byte("MM")):
		order = binary.BigEndian
	default:
		return
	}

	var description, userComment string

	ifdOffset := order.Uint32(tiff[4:8])
	exifOffset := uint32(0)

	walkIFD(tiff, order, ifdOffset, func(tag uint16, value []byte) {
		switch tag {
		case tagImageDescription:
			description = strings.TrimRight(string(value), "\x00")
		case tagExifIFDPointer:
			if len(value) >= 4 {
				exifOffset = order.Uint32(value[:4])
			}
		}
	})
	if exifOffset != 0 {
		walkIFD(tiff, order, exifOffset, func(tag uint16, value []byte) {
			if tag == tagUserComment {
				userComment = decodeUserComment(value)
			}
		})
	}

	if userComment != "" {
		// A1111 writes its whole parameters string into UserComment.
		if strings.Contains(userComment, "Steps:") || strings.Contains(userComment, "Sampler:") {
			info.Chunks["parameters"] = userComment
		} else {
			info.Chunks["Description"] = userComment
		}
	}
	if description != "" {
		if _, ok := info.Chunks["Description"]; !ok {
			info.Chunks["Description"] = description
		}
	}
}

var exifTypeSizes = map[uint16]uint32{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 7: 1, 9: 4, 10: 8,
}

func walkIFD(tiff []byte, order binary.ByteOrder, offset uint32, visit func(tag uint16, value []byte)) {
	if int(offset)+2 > len(tiff) {
		return
	}
	count := int(order.Uint16(tiff[offset : offset+2]))
	entry := offset + 2
	for i := 0; i < count; i++ {
		if int(entry)+12 > len(tiff) {
			return
		}
		tag := order.Uint16(tiff[entry : entry+2])
		typ := order.Uint16(tiff[entry+2 : entry+4])
		num := order.Uint32(tiff[entry+4 : entry+8])

		size, ok := exifTypeSizes[typ]
		if ok {
			total := size * num
			var value []byte
			if total <= 4 {
				value = tiff[entry+8 : entry+12]
				if uint32(len(value)) > total {
					value = value[:total]
				}
			} else {
				valOffset := order.Uint32(tiff[entry+8 : entry+12])
				if int(valOffset)+int(total) <= len(tiff) {
					value = tiff[valOffset : valOffset+total]
				}
			}
			if value != nil {
				visit(tag, value)
			}
		}
		entry += 12
	}
}

// decodeUserComment strips the 8-byte character-code prefix of the EXIF
// UserComment tag.
func decodeUserComment(value []byte) string {
	if len(value) < 8 {
		return strings.TrimRight(string(value), "\x00")
	}
	charset := value[:8]
	body := value[8:]
	switch {
	case bytes.HasPrefix(charset, []byte("ASCII")):
		return strings.TrimRight(string(body), "\x00")
	case bytes.HasPrefix(charset, []byte("UNICODE")):
		return decodeUCS2(body)
	default:
		// Undefined charset: tools routinely put UTF-8 here anyway.
		raw := append(bytes.TrimLeft(charset, "\x00"), body...)
		return strings.TrimRight(string(raw), "\x00")
	}
}

// decodeUCS2 converts UCS-2 text to UTF-8, guessing byte order from content.
func decodeUCS2(body []byte) string {
	if len(body) < 2 {
		return ""
	}
	order := binary.ByteOrder(binary.BigEndian)
	// A leading zero byte in big-endian text means ASCII-range characters;
	// the reverse suggests little-endian.
	if body[0] != 0 && body[1] == 0 {
		order = binary.LittleEndian
	}
	var sb strings.Builder
	for i := 0; i+1 < len(body); i += 2 {
		c := order.Uint16(body[i : i+2])
		if c == 0 {
			continue
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// ExtractFile reads the metadata of an image on disk.
func ExtractFile(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return Extract(f)
}
