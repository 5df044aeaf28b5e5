// Sdmeta extracts structured generation metadata from stable diffusion images.
// Both of the common embedding dialects are supported: the free-text "parameters"
// string written by A1111-style tools, and the workflow/prompt JSON node graphs
// written by ComfyUI, along with the aodh_metadata envelope that wraps the two.
// Sdmeta normalizes all of them into a single record of prompt, sampler and
// model information without ever failing the caller.
package sdmeta
