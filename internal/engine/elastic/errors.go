package elastic

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/ledgerkit/searchd/internal/engine"
)

// wireError is the error envelope the cluster returns on non-2xx responses.
type wireError struct {
	Error struct {
		Type      string `json:"type"`
		Reason    string `json:"reason"`
		RootCause []struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"root_cause"`
	} `json:"error"`
	Status int `json:"status"`
}

// decodeError turns a non-2xx response into an engine.Error with the right
// kind. Classification happens here, once, against the wire exception type;
// callers only ever look at the Kind.
func decodeError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)

	var we wireError
	if err := json.Unmarshal(body, &we); err != nil || we.Error.Type == "" {
		return &engine.Error{
			Op:   op,
			Kind: kindForStatus(res.StatusCode),
			Err:  fmt.Errorf("[%s] %s", res.Status(), strings.TrimSpace(string(body))),
		}
	}

	types := make([]string, 0, 1+len(we.Error.RootCause))
	types = append(types, we.Error.Type)
	for _, rc := range we.Error.RootCause {
		types = append(types, rc.Type)
	}

	return &engine.Error{
		Op:   op,
		Kind: classify(res.StatusCode, types),
		Err:  fmt.Errorf("[%s] %s: %s", res.Status(), we.Error.Type, we.Error.Reason),
	}
}

func classify(status int, types []string) engine.Kind {
	for _, t := range types {
		switch {
		case t == "version_conflict_engine_exception":
			return engine.KindConflict
		case strings.Contains(t, "too_complex"):
			return engine.KindTooComplex
		}
	}
	return kindForStatus(status)
}

func kindForStatus(status int) engine.Kind {
	switch status {
	case 400:
		return engine.KindBadRequest
	case 404:
		return engine.KindNotFound
	case 409:
		return engine.KindConflict
	default:
		return engine.KindOther
	}
}
