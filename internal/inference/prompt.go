package inference

// DefaultPrompt is the instruction sent with every page image.
const DefaultPrompt = "Convert this page to docling."

// DefaultModelID is the vision-to-sequence checkpoint the backends are
// expected to serve.
const DefaultModelID = "ds4sd/SmolDocling-256M-preview"

// DefaultMaxNewTokens caps the generated DocTags length.
const DefaultMaxNewTokens = 8192
