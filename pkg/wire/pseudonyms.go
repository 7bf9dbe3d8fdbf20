package wire

import (
	"context"
	"fmt"

	"pims/pkg/domain"
	dErrors "pims/pkg/domain-errors"
	"pims/pkg/transport"
)

// Pseudonyms is the entry point for the /Keyfiles/{id}/Pseudonyms resource
// group.
type Pseudonyms struct {
	c *Client
}

// Exists reports for each pseudonym whether the keyfile holds it. Unlike the
// identifier check this endpoint is source-agnostic, so all values go out in
// a single exchange. The result map is keyed by the pseudonyms as passed in;
// a response not covering every requested value is an integrity failure.
func (p Pseudonyms) Exists(ctx context.Context, keyfileID int, pseudonyms []domain.Pseudonym) (result map[domain.Pseudonym]bool, err error) {
	defer func() { p.c.recordOperation("pseudonyms_exists", len(pseudonyms), err) }()
	if len(pseudonyms) == 0 {
		return map[domain.Pseudonym]bool{}, nil
	}

	values := make([]string, len(pseudonyms))
	for n, pseudonym := range pseudonyms {
		values[n] = pseudonym.Value
	}

	raw, err := p.c.session.Post(ctx,
		fmt.Sprintf("/Keyfiles/%d/Pseudonyms/exists", keyfileID), nil, values)
	if err != nil {
		return nil, opError(err, fmt.Sprintf("check %d pseudonyms", len(pseudonyms)))
	}
	var exists map[string]bool
	if err := transport.Decode(raw, &exists); err != nil {
		return nil, opError(err, fmt.Sprintf("check %d pseudonyms", len(pseudonyms)))
	}

	result = make(map[domain.Pseudonym]bool, len(pseudonyms))
	for _, pseudonym := range pseudonyms {
		known, ok := exists[pseudonym.Value]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeResponseCardinality,
				"existence response is missing requested pseudonym %q", pseudonym.Value)
		}
		result[pseudonym] = known
	}
	return result, nil
}
