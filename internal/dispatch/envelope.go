// Package dispatch carries blob notifications between intake and the compute worker.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/example/aiscore/internal/usecase"
)

// ErrMalformedEnvelope is returned for bodies that carry no blob key.
var ErrMalformedEnvelope = errors.New("malformed notification envelope")

// envelope accepts the native {"blob_key": ...} body and the S3 bucket
// notification shape ({"Records":[{"s3":{"object":{"key": ...}}}]}).
type envelope struct {
	BlobKey string `json:"blob_key"`
	Records []struct {
		S3 struct {
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// DecodeNotifications extracts every blob key carried by body.
func DecodeNotifications(body []byte) ([]usecase.Notification, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if env.BlobKey != "" {
		return []usecase.Notification{{BlobKey: env.BlobKey}}, nil
	}

	var out []usecase.Notification
	for _, rec := range env.Records {
		if rec.S3.Object.Key == "" {
			continue
		}
		// bucket notifications URL-encode object keys
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		out = append(out, usecase.Notification{BlobKey: key})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no blob key", ErrMalformedEnvelope)
	}
	return out, nil
}
