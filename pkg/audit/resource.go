package audit

import (
	"strings"
	"unicode"
)

// APIPrefix is stripped from request paths before resource extraction.
const APIPrefix = "/api/v1/"

// UnknownResource is recorded when a path names no resource.
const UnknownResource = "unknown"

// ResourceFromPath derives the audited resource from a request path. The
// first segment after [APIPrefix] is the type. The second segment is the
// id unless it is purely alphabetic, which marks a sub-route:
//
//	/api/v1/contratos/123    -> ("contratos", "123")
//	/api/v1/pareceres        -> ("pareceres", "")
//	/api/v1/contratos/upload -> ("contratos", "")
func ResourceFromPath(path string) (resourceType, resourceID string) {
	path = strings.TrimPrefix(path, APIPrefix)
	path = strings.TrimPrefix(path, "/")

	parts := strings.Split(path, "/")
	resourceType = parts[0]
	if resourceType == "" {
		resourceType = UnknownResource
	}
	if len(parts) >= 2 && parts[1] != "" && !isAlpha(parts[1]) {
		resourceID = parts[1]
	}
	return resourceType, resourceID
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
