package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"litgraph/internal/config"
	"litgraph/internal/providers"
)

func TestToAPIErrorCodes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		err     error
		code    string
		message string
	}{
		{"schema missing", http.StatusInternalServerError, errString(`ERROR: relation "papers" does not exist`), "LG-DB-5001", "Database schema is not initialized. Run migrations and retry."},
		{"db down", http.StatusInternalServerError, errString("dial tcp 127.0.0.1:5432: connection refused"), "LG-DB-5002", "Database connection is unavailable. Check local services and retry."},
		{"generic 500", http.StatusInternalServerError, errString("something broke"), "LG-API-5000", "Internal server error. Please retry or check service logs."},
		{"bad json", http.StatusBadRequest, errString("invalid json: unexpected EOF"), "LG-API-4001", "Malformed JSON request body."},
		{"missing question", http.StatusBadRequest, errString("question is required"), "LG-API-4001", "A question is required."},
		{"malformed paper", http.StatusBadRequest, errString("malformed paper document: missing title"), "LG-API-4001", "Paper document is malformed: a title and some text are required."},
		{"bad rebuild mode", http.StatusBadRequest, errString("unsupported rebuild mode: DEFRAG"), "LG-API-4001", "Unsupported rebuild mode."},
		{"not found", http.StatusNotFound, errString("get paper: no rows"), "LG-API-4004", "Requested resource was not found."},
		{"conflict", http.StatusConflict, errString("workflow execution already started"), "LG-API-4009", "Operation conflicts with current state. Retry after checking status."},
		{"method", http.StatusMethodNotAllowed, errString("method not allowed"), "LG-API-4005", "This endpoint does not support the requested method."},
		{"provider down", http.StatusBadGateway, errString("embedding providers unavailable"), "LG-API-5020", "Upstream provider unavailable. Retry shortly."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := toAPIError(tc.status, tc.err)
			require.Equal(t, tc.code, got.Code)
			require.Equal(t, tc.message, got.Message)
		})
	}
}

func TestParseTimeBound(t *testing.T) {
	got, err := parseTimeBound("")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = parseTimeBound("2015")
	require.NoError(t, err)
	require.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseTimeBound("2020-06-01")
	require.NoError(t, err)
	require.Equal(t, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseTimeBound("2021-03-04T05:06:07Z")
	require.NoError(t, err)
	require.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), *got)

	_, err = parseTimeBound("last tuesday")
	require.Error(t, err)
}

func TestClusterSummariesSortedByLabel(t *testing.T) {
	out := clusterSummaries(map[int]int{2: 1, 0: 3, 1: 2})
	require.Equal(t, []clusterSummary{{Label: 0, Size: 3}, {Label: 1, Size: 2}, {Label: 2, Size: 1}}, out)
}

func TestFailoverEmbedderServesConfiguredModelID(t *testing.T) {
	pm, err := providers.NewManager(config.Config{LLMProviders: "mock", EmbedProviders: "mock", EmbedDim: 8})
	require.NoError(t, err)

	fe := &failoverEmbedder{manager: pm, modelID: "unit-embed", dim: 8}
	require.Equal(t, "unit-embed", fe.ModelID())

	vecs, err := fe.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Len(t, vecs[0], 8)
}

func TestFailoverLLMReportsConfiguredName(t *testing.T) {
	pm, err := providers.NewManager(config.Config{LLMProviders: "mock", EmbedProviders: "mock", EmbedDim: 8})
	require.NoError(t, err)

	fl := &failoverLLM{manager: pm}
	resp, info, err := fl.Generate(context.Background(), providers.GenerateRequest{
		Operation: "rag_answer",
		Prompt:    "Question: what is measured?",
		Context:   []string{"C1 | Paper: evidence text"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Text)
	require.Equal(t, "mock", info.Name)
}

type errString string

func (e errString) Error() string { return string(e) }
