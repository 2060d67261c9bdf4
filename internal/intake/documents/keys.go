package documents

import "github.com/google/uuid"

// CasePrefix is the object prefix holding every image of one case.
func CasePrefix(caseID uuid.UUID) string {
	return "cases/" + caseID.String() + "/"
}
