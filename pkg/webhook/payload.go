package webhook

import (
	"encoding/json"
	"io"
)

// genericPayload captures only the repository field common to every
// whitelisted event type; everything else stays opaque and is forwarded
// to the Router untouched.
type genericPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// repositoryFullName extracts "owner/name" from an event payload. A
// payload with no repository field (e.g. ping) yields an empty string,
// not an error.
func repositoryFullName(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	var p genericPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", err
	}
	return p.Repository.FullName, nil
}

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
