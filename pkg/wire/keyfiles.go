package wire

import (
	"context"
	"fmt"
	"net/url"

	"pims/pkg/domain"
	dErrors "pims/pkg/domain-errors"
	"pims/pkg/transport"
)

// KeyFiles is the entry point for the /Keyfiles resource group: keyfile
// metadata and the bulk pseudonymize path.
type KeyFiles struct {
	c *Client
}

// Get fetches the metadata record of one keyfile.
func (k KeyFiles) Get(ctx context.Context, keyfileID int) (KeyfileInfo, error) {
	raw, err := k.c.session.Get(ctx, fmt.Sprintf("/Keyfiles/%d", keyfileID))
	if err != nil {
		return KeyfileInfo{}, opError(err, fmt.Sprintf("get keyfile %d", keyfileID))
	}
	var info KeyfileInfo
	if err := transport.Decode(raw, &info); err != nil {
		return KeyfileInfo{}, opError(err, fmt.Sprintf("get keyfile %d", keyfileID))
	}
	return info, nil
}

// ForUser lists the keyfiles the given user is a member of.
func (k KeyFiles) ForUser(ctx context.Context, userKey string) ([]KeyfileInfo, error) {
	raw, err := k.c.session.Get(ctx, "/Keyfiles/ForUser/"+url.PathEscape(userKey))
	if err != nil {
		return nil, opError(err, "list keyfiles for user "+userKey)
	}
	var page listResponse[KeyfileInfo]
	if err := transport.Decode(raw, &page); err != nil {
		return nil, opError(err, "list keyfiles for user "+userKey)
	}
	return page.Data, nil
}

// Users lists the role bindings on one keyfile.
func (k KeyFiles) Users(ctx context.Context, keyfileID int) ([]Member, error) {
	raw, err := k.c.session.Get(ctx, fmt.Sprintf("/Keyfiles/%d/Users", keyfileID))
	if err != nil {
		return nil, opError(err, fmt.Sprintf("list users of keyfile %d", keyfileID))
	}
	var page listResponse[Member]
	if err := transport.Decode(raw, &page); err != nil {
		return nil, opError(err, fmt.Sprintf("list users of keyfile %d", keyfileID))
	}
	return page.Data, nil
}

// Pseudonymize maps every identifier to its pseudonym, generating new
// pseudonyms server-side for identifiers not yet in the keyfile. The input
// may mix sources; each source goes out as its own exchange series, chunked
// to the server's page limit. Result order matches input order within each
// source partition, partitions in first-seen order.
func (k KeyFiles) Pseudonymize(ctx context.Context, keyfileID int, identifiers []domain.Identifier) (keys []domain.Key, err error) {
	defer func() { k.c.recordOperation("pseudonymize", len(identifiers), err) }()
	if len(identifiers) == 0 {
		return nil, nil
	}

	type job struct {
		source string
		batch  []domain.Identifier
	}
	var jobs []job
	sources, parts := partitionBySource(identifiers, func(i domain.Identifier) string { return i.Source })
	for _, source := range sources {
		for _, batch := range chunkBy(parts[source], pseudonymizeChunkSize) {
			jobs = append(jobs, job{source: source, batch: batch})
		}
	}

	if len(jobs) > 1 {
		k.c.logger.Debug("pseudonymize split into chunks",
			"keyfile_id", keyfileID, "items", len(identifiers), "chunks", len(jobs))
	}

	results := make([][]domain.Key, len(jobs))
	err = k.c.forEach(ctx, len(jobs), func(ctx context.Context, i int) error {
		k.c.recordChunk("pseudonymize")
		parsed, err := k.pseudonymizeChunk(ctx, keyfileID, jobs[i].source, jobs[i].batch)
		if err != nil {
			return opError(err, fmt.Sprintf("pseudonymize %d identifiers (source %q)",
				len(jobs[i].batch), jobs[i].source))
		}
		results[i] = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	keys = make([]domain.Key, 0, len(identifiers))
	for _, r := range results {
		keys = append(keys, r...)
	}
	return keys, nil
}

// pseudonymizeChunk issues one deidentify exchange for a single-source batch
// within the page limit and zips the returned pseudonym column positionally
// against the batch.
func (k KeyFiles) pseudonymizeChunk(ctx context.Context, keyfileID int, source string, batch []domain.Identifier) ([]domain.Key, error) {
	values := make([]string, 0, len(batch)+1)
	for _, identifier := range batch {
		values = append(values, identifier.Value)
	}
	if k.c.padding {
		// The server miscounts exactly-full pages; one trailing empty value
		// keeps it honest. Its echo is stripped below.
		values = append(values, "")
	}

	params := url.Values{
		"FileName":         {"DataEntry"},
		"identity_source":  {source},
		"CreateOutputfile": {"True"},
		"overwrite":        {"Overwrite"},
	}
	body := []deidentifyColumn{{
		Name:   "Column 1",
		Type:   []string{"Pseudonymize"},
		Action: "Pseudonymize",
		Values: values,
	}}

	raw, err := k.c.session.Post(ctx,
		fmt.Sprintf("/Keyfiles/%d/Files/deidentify", keyfileID), params, body)
	if err != nil {
		return nil, err
	}
	var resp deidentifyResponse
	if err := transport.Decode(raw, &resp); err != nil {
		return nil, err
	}

	var pseudonyms []string
	for _, column := range resp.Results {
		if column.PseudonymisationAction == pseudonymOutputAction {
			pseudonyms = column.Values
			break
		}
	}
	if pseudonyms == nil {
		return nil, dErrors.New(dErrors.CodeResponseCardinality,
			"response carried no pseudonym output column")
	}

	want := len(values)
	if len(pseudonyms) != want {
		return nil, dErrors.Newf(dErrors.CodeResponseCardinality,
			"sent %d values but server returned %d pseudonyms", want, len(pseudonyms))
	}
	pseudonyms = pseudonyms[:len(batch)]

	keys := make([]domain.Key, len(batch))
	for i, identifier := range batch {
		keys[i] = domain.NewKeyFromStrings(pseudonyms[i], identifier.Value, source)
	}
	return keys, nil
}
