// Package prompt renders the prompts sent to the language model. Templates are
// kept per business type and stage (SYSTEM, EXTRACTION, REFLECT); a business
// type without its own template for a stage falls back to the DEFAULT one.
//
// The built-in templates are embedded in the binary. A template directory
// configured at startup can override any of them by file name, e.g.
// GAODE_EXTRACTION.tmpl.
package prompt
