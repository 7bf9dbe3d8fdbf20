package wire_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	prmtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pims/internal/pimstest"
	"pims/pkg/auth"
	"pims/pkg/domain"
	dErrors "pims/pkg/domain-errors"
	"pims/pkg/transport"
	"pims/pkg/wire"
	"pims/pkg/wire/metrics"
)

const keyfileID = 42

func newClient(t *testing.T, baseURL string, opts ...wire.Option) *wire.Client {
	t.Helper()
	session, err := transport.NewSession(baseURL, auth.StaticToken("test-token"))
	require.NoError(t, err)
	client, err := wire.NewClient(session, opts...)
	require.NoError(t, err)
	return client
}

func startServer(t *testing.T) (*pimstest.Server, string) {
	t.Helper()
	server, url := pimstest.Start(t)
	server.AddKeyfile(wire.KeyfileInfo{
		ID:                keyfileID,
		Name:              "research-project",
		PseudonymTemplate: ":PatientID|Patient{ID:6}:StudyInstanceUID|1.2.3.{seq}",
		Description:       "fake keyfile",
	})
	return server, url
}

func TestNewClientRequiresSession(t *testing.T) {
	_, err := wire.NewClient(nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestPseudonymizePartitionsBySource(t *testing.T) {
	server, url := startServer(t)
	client := newClient(t, url)

	identifiers := []domain.Identifier{
		domain.NewPatientID("patient-a"),
		domain.NewStudyInstanceUID("1.2.840.1"),
		domain.NewPatientID("patient-b"),
	}
	keys, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID, identifiers)
	require.NoError(t, err)
	require.Len(t, keys, 3)

	// One exchange per distinct source.
	assert.Len(t, server.RequestsTo("/Files/deidentify"), 2)

	// Partition order is first-seen source order, input order within it.
	assert.Equal(t, "patient-a", keys[0].Identifier.Value)
	assert.Equal(t, "patient-b", keys[1].Identifier.Value)
	assert.Equal(t, "1.2.840.1", keys[2].Identifier.Value)

	for _, key := range keys {
		assert.Equal(t, key.Identifier.Source, key.Pseudonym.Source)
		stored, ok := server.Pseudonym(keyfileID, key.Identifier.Value, key.Identifier.Source)
		require.True(t, ok)
		assert.Equal(t, stored, key.Pseudonym.Value)
	}
}

func TestPseudonymizeIsIdempotent(t *testing.T) {
	server, url := startServer(t)
	server.SetKey(keyfileID, "known-patient", "PatientID", "Patient000001")
	client := newClient(t, url)

	keys, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID,
		[]domain.Identifier{domain.NewPatientID("known-patient")})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "Patient000001", keys[0].Pseudonym.Value)
}

func TestPseudonymizeChunksLargeInput(t *testing.T) {
	server, url := startServer(t)
	client := newClient(t, url)

	identifiers := make([]domain.Identifier, 2000)
	for i := range identifiers {
		identifiers[i] = domain.NewPatientID(fmt.Sprintf("patient-%04d", i))
	}

	keys, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID, identifiers)
	require.NoError(t, err)
	require.Len(t, keys, 2000)

	// Input order survives chunking.
	for i, key := range keys {
		assert.Equal(t, identifiers[i].Value, key.Identifier.Value)
	}

	requests := server.RequestsTo("/Files/deidentify")
	require.Len(t, requests, 2)
	for _, r := range requests {
		var columns []struct {
			Values []string `json:"values"`
		}
		require.NoError(t, json.Unmarshal(r.Body, &columns))
		require.Len(t, columns, 1)
		// 1000 real values plus the trailing sentinel.
		assert.Len(t, columns[0].Values, 1001)
		assert.Equal(t, "", columns[0].Values[1000])
	}
}

func TestPseudonymizeWithoutPaddingWorkaround(t *testing.T) {
	server, url := startServer(t)
	client := newClient(t, url, wire.WithoutPaddingWorkaround())

	_, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID,
		[]domain.Identifier{domain.NewPatientID("a"), domain.NewPatientID("b")})
	require.NoError(t, err)

	requests := server.RequestsTo("/Files/deidentify")
	require.Len(t, requests, 1)
	var columns []struct {
		Values []string `json:"values"`
	}
	require.NoError(t, json.Unmarshal(requests[0].Body, &columns))
	assert.Equal(t, []string{"a", "b"}, columns[0].Values)
}

func TestPseudonymizeEmptyInputIssuesNoCall(t *testing.T) {
	server, url := startServer(t)
	client := newClient(t, url)

	keys, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID, nil)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 0, server.RequestCount())
}

func TestPseudonymizeConcurrentChunksKeepOrder(t *testing.T) {
	_, url := startServer(t)
	client := newClient(t, url, wire.WithConcurrency(4))

	identifiers := make([]domain.Identifier, 2500)
	for i := range identifiers {
		identifiers[i] = domain.NewPatientID(fmt.Sprintf("patient-%04d", i))
	}
	keys, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID, identifiers)
	require.NoError(t, err)
	require.Len(t, keys, 2500)
	for i, key := range keys {
		require.Equal(t, identifiers[i].Value, key.Identifier.Value)
	}
}

func TestPseudonymizeCardinalityMismatch(t *testing.T) {
	// A server dropping rows must surface as an integrity failure, never as a
	// silently shortened zip.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"name":"Pseudonym","values":["only-one"],` +
			`"pseudonymisationAction":"PseudonymOutput"}],"comments":""}`))
	}))
	t.Cleanup(srv.Close)
	client := newClient(t, srv.URL)

	_, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID,
		[]domain.Identifier{domain.NewPatientID("a"), domain.NewPatientID("b")})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeResponseCardinality))
}

func TestPseudonymizeMissingOutputColumn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"name":"Identifier","values":["a"],` +
			`"pseudonymisationAction":"Identifier"}],"comments":""}`))
	}))
	t.Cleanup(srv.Close)
	client := newClient(t, srv.URL)

	_, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID,
		[]domain.Identifier{domain.NewPatientID("a")})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeResponseCardinality))
}

func TestReidentifyFiltersAmbiguousCollisions(t *testing.T) {
	server, url := startServer(t)
	// The same pseudonym value lives under two sources.
	server.SetKey(keyfileID, "d5123", "PatientID", "Patient000786")
	server.SetKey(keyfileID, "1.2.840.9", "StudyInstanceUID", "Patient000786")
	client := newClient(t, url)

	keys, err := client.Identities().Reidentify(context.Background(), keyfileID,
		[]domain.Pseudonym{domain.NewPseudoPatientID("Patient000786")})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "d5123", keys[0].Identifier.Value)
	assert.Equal(t, "PatientID", keys[0].Source())
}

func TestReidentifyOmitsUnknownPseudonyms(t *testing.T) {
	server, url := startServer(t)
	server.SetKey(keyfileID, "d5123", "PatientID", "Patient000786")
	client := newClient(t, url)

	keys, err := client.Identities().Reidentify(context.Background(), keyfileID,
		[]domain.Pseudonym{
			domain.NewPseudoPatientID("Patient000786"),
			domain.NewPseudoPatientID("NeverIssued"),
		})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "d5123", keys[0].Identifier.Value)
}

func TestReidentifyStrict(t *testing.T) {
	server, url := startServer(t)
	server.SetKey(keyfileID, "d5123", "PatientID", "Patient000786")
	server.SetKey(keyfileID, "g5123", "PatientID", "Patient000789")
	client := newClient(t, url)

	t.Run("resolves in input order", func(t *testing.T) {
		keys, err := client.Identities().ReidentifyStrict(context.Background(), keyfileID,
			[]domain.Pseudonym{
				domain.NewPseudoPatientID("Patient000789"),
				domain.NewPseudoPatientID("Patient000786"),
			})
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, "g5123", keys[0].Identifier.Value)
		assert.Equal(t, "d5123", keys[1].Identifier.Value)
	})

	t.Run("unknown pseudonym is a hard failure", func(t *testing.T) {
		_, err := client.Identities().ReidentifyStrict(context.Background(), keyfileID,
			[]domain.Pseudonym{
				domain.NewPseudoPatientID("Patient000786"),
				domain.NewPseudoPatientID("NeverIssued"),
			})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIdentityNotFound))
		assert.Contains(t, err.Error(), "NeverIssued")
		assert.Contains(t, err.Error(), "PatientID")
	})

	t.Run("source mismatch is a miss", func(t *testing.T) {
		_, err := client.Identities().ReidentifyStrict(context.Background(), keyfileID,
			[]domain.Pseudonym{domain.NewPseudoStudyInstanceUID("Patient000786")})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIdentityNotFound))
	})
}

func TestReidentifyChunksAtSmallerLimit(t *testing.T) {
	server, url := startServer(t)
	client := newClient(t, url)

	pseudonyms := make([]domain.Pseudonym, 1200)
	for i := range pseudonyms {
		pseudonyms[i] = domain.NewPseudoPatientID(fmt.Sprintf("Pseudonym%06d", i))
	}
	_, err := client.Identities().Reidentify(context.Background(), keyfileID, pseudonyms)
	require.NoError(t, err)

	requests := server.RequestsTo("/Identities/reidentify")
	require.Len(t, requests, 3)
	var sizes []int
	for _, r := range requests {
		var req struct {
			Items []string `json:"items"`
		}
		require.NoError(t, json.Unmarshal(r.Body, &req))
		sizes = append(sizes, len(req.Items))
	}
	// 500-item pages plus one sentinel each.
	assert.Equal(t, []int{501, 501, 201}, sizes)
}

func TestReidentifyEmptyInputIssuesNoCall(t *testing.T) {
	server, url := startServer(t)
	client := newClient(t, url)

	keys, err := client.Identities().Reidentify(context.Background(), keyfileID, nil)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 0, server.RequestCount())
}

func TestIdentitiesExist(t *testing.T) {
	server, url := startServer(t)
	server.SetKey(keyfileID, "g5123", "PatientID", "Patient000789")
	client := newClient(t, url)

	known := domain.NewPatientID("g5123")
	unknown := domain.NewPatientID("1234")
	otherSource := domain.NewStudyInstanceUID("g5123")

	result, err := client.Identities().Exists(context.Background(), keyfileID,
		[]domain.Identifier{known, unknown, otherSource})
	require.NoError(t, err)

	// Keyed by the exact elements passed in; same value under another source
	// is a distinct entry.
	assert.Equal(t, map[domain.Identifier]bool{
		known:       true,
		unknown:     false,
		otherSource: false,
	}, result)
	assert.Len(t, server.RequestsTo("/Identities/exists"), 2)
}

func TestIdentitiesExistIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"g5123":true}`))
	}))
	t.Cleanup(srv.Close)
	client := newClient(t, srv.URL)

	_, err := client.Identities().Exists(context.Background(), keyfileID,
		[]domain.Identifier{domain.NewPatientID("g5123"), domain.NewPatientID("1234")})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeResponseCardinality))
}

func TestPseudonymsExistSingleExchange(t *testing.T) {
	server, url := startServer(t)
	server.SetKey(keyfileID, "d5123", "PatientID", "Patient000786")
	client := newClient(t, url)

	known := domain.NewPseudoPatientID("Patient000786")
	unknown := domain.NewPseudoStudyInstanceUID("1.9.9.9")

	result, err := client.Pseudonyms().Exists(context.Background(), keyfileID,
		[]domain.Pseudonym{known, unknown})
	require.NoError(t, err)
	assert.Equal(t, map[domain.Pseudonym]bool{known: true, unknown: false}, result)

	// No source partitioning on this endpoint.
	assert.Len(t, server.RequestsTo("/Pseudonyms/exists"), 1)
}

func TestSetAndDelete(t *testing.T) {
	server, url := startServer(t)
	client := newClient(t, url)
	ctx := context.Background()

	keys := []domain.Key{
		domain.NewKeyFromStrings("Patient000001", "real-1", "PatientID"),
		domain.NewKeyFromStrings("Patient000002", "real-2", "PatientID"),
	}
	require.NoError(t, client.Identities().Set(ctx, keyfileID, keys))

	stored, ok := server.Pseudonym(keyfileID, "real-1", "PatientID")
	require.True(t, ok)
	assert.Equal(t, "Patient000001", stored)

	// The server silently keeps the first mapping on duplicate set.
	dup := []domain.Key{domain.NewKeyFromStrings("Patient000099", "real-1", "PatientID")}
	require.NoError(t, client.Identities().Set(ctx, keyfileID, dup))
	stored, _ = server.Pseudonym(keyfileID, "real-1", "PatientID")
	assert.Equal(t, "Patient000001", stored)

	require.NoError(t, client.Identities().Delete(ctx, keyfileID,
		[]domain.Identifier{domain.NewPatientID("real-1")}))
	_, ok = server.Pseudonym(keyfileID, "real-1", "PatientID")
	assert.False(t, ok)

	// Empty inputs short-circuit.
	before := server.RequestCount()
	require.NoError(t, client.Identities().Set(ctx, keyfileID, nil))
	require.NoError(t, client.Identities().Delete(ctx, keyfileID, nil))
	assert.Equal(t, before, server.RequestCount())
}

func TestKeyfileMetadata(t *testing.T) {
	server, url := startServer(t)
	server.AddKeyfile(wire.KeyfileInfo{
		ID:                7,
		Name:              "trial-7",
		PseudonymTemplate: ":PatientID|Patient{ID:6}",
		Members: []wire.Member{{
			ID:        1,
			KeyfileID: 7,
			User:      wire.User{ID: 99, DisplayName: "Z. Researcher", Email: "z@example.org"},
		}},
	})
	client := newClient(t, url)
	ctx := context.Background()

	info, err := client.KeyFiles().Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "trial-7", info.Name)
	assert.Equal(t, ":PatientID|Patient{ID:6}", info.PseudonymTemplate)

	_, err = client.KeyFiles().Get(ctx, 99999)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	members, err := client.KeyFiles().Users(ctx, 7)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Z. Researcher", members[0].User.DisplayName)

	files, err := client.KeyFiles().ForUser(ctx, "99")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 7, files[0].ID)

	user, err := client.Users().Details(ctx, "z@example.org")
	require.NoError(t, err)
	assert.Equal(t, 99, user.ID)

	_, err = client.Users().Details(ctx, "nobody@example.org")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestMetricsRecording(t *testing.T) {
	_, url := startServer(t)
	registry := prometheus.NewRegistry()
	m := metrics.NewWith(registry)
	client := newClient(t, url, wire.WithMetrics(m))

	_, err := client.KeyFiles().Pseudonymize(context.Background(), keyfileID,
		[]domain.Identifier{domain.NewPatientID("a")})
	require.NoError(t, err)

	assert.Equal(t, 1.0, prmtestutil.ToFloat64(m.Requests.WithLabelValues("pseudonymize", "ok")))
	assert.Equal(t, 1.0, prmtestutil.ToFloat64(m.Chunks.WithLabelValues("pseudonymize")))
}
