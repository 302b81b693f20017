package sqlassets

import _ "embed"

//go:embed schema/prompts.sql
var PromptsSQL string
