package wire

import (
	"context"
	"fmt"
	"net/url"

	"pims/pkg/domain"
	dErrors "pims/pkg/domain-errors"
	"pims/pkg/transport"
)

// Identities is the entry point for the /Keyfiles/{id}/Identities resource
// group: reidentification, existence checks, explicit key management.
type Identities struct {
	c *Client
}

type reidentifyJob struct {
	source string
	batch  []domain.Pseudonym
}

// fetch runs the reidentify exchanges for all source partitions and chunks,
// returning the raw response items per job in submission order. Shared by the
// tolerant and strict reconciliation paths.
func (i Identities) fetch(ctx context.Context, keyfileID int, pseudonyms []domain.Pseudonym) ([]reidentifyJob, [][]reidentifyItem, error) {
	var jobs []reidentifyJob
	sources, parts := partitionBySource(pseudonyms, func(p domain.Pseudonym) string { return p.Source })
	for _, source := range sources {
		for _, batch := range chunkBy(parts[source], reidentifyChunkSize) {
			jobs = append(jobs, reidentifyJob{source: source, batch: batch})
		}
	}

	results := make([][]reidentifyItem, len(jobs))
	err := i.c.forEach(ctx, len(jobs), func(ctx context.Context, n int) error {
		i.c.recordChunk("reidentify")
		items, err := i.reidentifyChunk(ctx, keyfileID, jobs[n].batch)
		if err != nil {
			return opError(err, fmt.Sprintf("reidentify %d pseudonyms (source %q)",
				len(jobs[n].batch), jobs[n].source))
		}
		results[n] = items
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return jobs, results, nil
}

func (i Identities) reidentifyChunk(ctx context.Context, keyfileID int, batch []domain.Pseudonym) ([]reidentifyItem, error) {
	values := make([]string, 0, len(batch)+1)
	for _, pseudonym := range batch {
		values = append(values, pseudonym.Value)
	}
	if i.c.padding {
		values = append(values, "")
	}

	raw, err := i.c.session.Post(ctx,
		fmt.Sprintf("/Keyfiles/%d/Identities/reidentify", keyfileID), nil,
		reidentifyRequest{ReturnIdentity: true, ReturnColumns: "*", Items: values})
	if err != nil {
		return nil, err
	}
	var resp reidentifyResponse
	if err := transport.Decode(raw, &resp); err != nil {
		return nil, err
	}
	return resp.Pseudonyms.Items, nil
}

// Reidentify resolves pseudonyms back to their identities, tolerating misses:
// pseudonyms unknown to the keyfile are simply absent from the result. When
// the same pseudonym value exists under several sources the server returns
// every collision, so each partition's result is filtered down to the
// partition's own source here; the wire-level source filter is unreliable.
func (i Identities) Reidentify(ctx context.Context, keyfileID int, pseudonyms []domain.Pseudonym) (keys []domain.Key, err error) {
	defer func() { i.c.recordOperation("reidentify", len(pseudonyms), err) }()
	if len(pseudonyms) == 0 {
		return nil, nil
	}

	jobs, results, err := i.fetch(ctx, keyfileID, pseudonyms)
	if err != nil {
		return nil, err
	}

	keys = make([]domain.Key, 0, len(pseudonyms))
	for n, job := range jobs {
		for _, item := range results[n] {
			if item.IdentitySource != job.source {
				continue
			}
			keys = append(keys, domain.NewKeyFromStrings(item.Pseudonym, item.Value, item.IdentitySource))
		}
	}
	return keys, nil
}

// ReidentifyStrict resolves pseudonyms back to their identities and fails on
// the first requested pseudonym the keyfile does not know. Result order
// matches input order. Callers who can live with partial results should use
// Reidentify instead.
func (i Identities) ReidentifyStrict(ctx context.Context, keyfileID int, pseudonyms []domain.Pseudonym) (keys []domain.Key, err error) {
	defer func() { i.c.recordOperation("reidentify_strict", len(pseudonyms), err) }()
	if len(pseudonyms) == 0 {
		return nil, nil
	}

	_, results, err := i.fetch(ctx, keyfileID, pseudonyms)
	if err != nil {
		return nil, err
	}

	type pair struct{ value, source string }
	found := make(map[pair]reidentifyItem)
	for _, items := range results {
		for _, item := range items {
			found[pair{item.Pseudonym, item.IdentitySource}] = item
		}
	}

	keys = make([]domain.Key, 0, len(pseudonyms))
	for _, pseudonym := range pseudonyms {
		item, ok := found[pair{pseudonym.Value, pseudonym.Source}]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeIdentityNotFound,
				"pseudonym %q (source %q) is not in keyfile %d",
				pseudonym.Value, pseudonym.Source, keyfileID)
		}
		keys = append(keys, domain.NewKeyFromStrings(item.Pseudonym, item.Value, item.IdentitySource))
	}
	return keys, nil
}

// Exists reports for each identifier whether the keyfile already holds it.
// The result map is keyed by the identifiers as passed in. A response not
// covering every requested value is an integrity failure.
func (i Identities) Exists(ctx context.Context, keyfileID int, identifiers []domain.Identifier) (result map[domain.Identifier]bool, err error) {
	defer func() { i.c.recordOperation("identities_exists", len(identifiers), err) }()
	if len(identifiers) == 0 {
		return map[domain.Identifier]bool{}, nil
	}

	result = make(map[domain.Identifier]bool, len(identifiers))
	sources, parts := partitionBySource(identifiers, func(id domain.Identifier) string { return id.Source })
	for _, source := range sources {
		batch := parts[source]
		values := make([]string, len(batch))
		for n, identifier := range batch {
			values[n] = identifier.Value
		}

		raw, err := i.c.session.Post(ctx,
			fmt.Sprintf("/Keyfiles/%d/Identities/exists", keyfileID),
			url.Values{"identity_source": {source}}, values)
		if err != nil {
			return nil, opError(err, fmt.Sprintf("check %d identifiers (source %q)", len(batch), source))
		}
		var exists map[string]bool
		if err := transport.Decode(raw, &exists); err != nil {
			return nil, opError(err, fmt.Sprintf("check %d identifiers (source %q)", len(batch), source))
		}

		for _, identifier := range batch {
			known, ok := exists[identifier.Value]
			if !ok {
				return nil, dErrors.Newf(dErrors.CodeResponseCardinality,
					"existence response is missing requested value %q (source %q)",
					identifier.Value, source)
			}
			result[identifier] = known
		}
	}
	return result, nil
}

// Set writes explicit identity-pseudonym pairs into the keyfile. The server
// silently skips pairs whose identity already exists; collision detection is
// the caller's job (see keyfile.KeyFile.SetKeys).
func (i Identities) Set(ctx context.Context, keyfileID int, keys []domain.Key) (err error) {
	defer func() { i.c.recordOperation("set_keys", len(keys), err) }()
	if len(keys) == 0 {
		return nil
	}

	items := make([]setKeysItem, len(keys))
	for n, key := range keys {
		items[n] = setKeysItem{
			Identity:       key.Identifier.Value,
			IdentitySource: key.Identifier.Source,
			Pseudonym:      key.Pseudonym.Value,
		}
	}
	_, err = i.c.session.Post(ctx,
		fmt.Sprintf("/Keyfiles/%d/Identities/set", keyfileID), nil,
		setKeysRequest{Items: items})
	return opError(err, fmt.Sprintf("set %d keys", len(keys)))
}

// Delete removes identifiers and their pseudonyms from the keyfile, one
// exchange per source.
func (i Identities) Delete(ctx context.Context, keyfileID int, identifiers []domain.Identifier) (err error) {
	defer func() { i.c.recordOperation("delete", len(identifiers), err) }()
	if len(identifiers) == 0 {
		return nil
	}

	sources, parts := partitionBySource(identifiers, func(id domain.Identifier) string { return id.Source })
	for _, source := range sources {
		batch := parts[source]
		values := make([]string, len(batch))
		for n, identifier := range batch {
			values[n] = identifier.Value
		}
		_, err := i.c.session.Post(ctx,
			fmt.Sprintf("/Keyfiles/%d/Identities/delete", keyfileID),
			url.Values{"identity_source": {source}}, values)
		if err != nil {
			return opError(err, fmt.Sprintf("delete %d identifiers (source %q)", len(batch), source))
		}
	}
	return nil
}
