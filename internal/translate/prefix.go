package translate

import "strings"

// displayPrefixes decorate model ids for display only. They select no
// different upstream behavior.
var displayPrefixes = []string{
	"假流式/",
	"流式抗截断/",
	"fake-stream/",
	"anti-truncation/",
}

// StripModelPrefix removes a known display prefix from a model id
func StripModelPrefix(model string) string {
	for _, prefix := range displayPrefixes {
		if strings.HasPrefix(model, prefix) {
			return strings.TrimPrefix(model, prefix)
		}
	}
	return model
}
