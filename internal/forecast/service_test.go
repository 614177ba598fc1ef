package forecast

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecast-agent/backend/internal/domain"
)

func newTestService(store *memoryStore, preflight func() error, exporters ...Exporter) *Service {
	o := NewOrchestrator(twoByTwoSource(), &fakeExtractor{}, &fakeTrends{result: domain.TrendResult{Analysis: "flat"}},
		&fakeQualitative{result: qualitativeResult()}, WithPreflight(preflight))
	return NewService(o, store, 10, exporters...)
}

func TestService_RunPersistsResult(t *testing.T) {
	store := newMemoryStore()
	exporter := &recordingExporter{}
	svc := newTestService(store, nil, exporter)

	result, err := svc.Run(context.Background(), Request{Company: " tcs ", Quarters: 2}, nil)
	require.NoError(t, err)

	_, parseErr := uuid.Parse(result.RequestID)
	assert.NoError(t, parseErr, "generated request id is a uuid")
	assert.Equal(t, "TCS", result.Company)

	record, err := svc.Get(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, result, record.Forecast)
	assert.Equal(t, []string{result.RequestID}, exporter.exported)
	assert.Empty(t, store.errors)
}

func TestService_RunKeepsCallerRequestID(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil)

	result, err := svc.Run(context.Background(), Request{RequestID: "req-42"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "req-42", result.RequestID)
	assert.Equal(t, DefaultCompany, result.Company)
}

func TestService_RerunOverwritesSameRequestID(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil)

	first, err := svc.Run(context.Background(), Request{RequestID: "req-same"}, nil)
	require.NoError(t, err)
	second, err := svc.Run(context.Background(), Request{RequestID: "req-same"}, nil)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Same(t, second, history[0].Forecast)
	assert.NotSame(t, first, history[0].Forecast)
}

func TestService_ConfigurationFailureIsRecorded(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, func() error {
		return &domain.ConfigurationError{Field: "llm.apiKey", Reason: "inference credential is not configured"}
	})

	result, err := svc.Run(context.Background(), Request{RequestID: "req-cfg"}, nil)
	assert.Nil(t, result)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "req-cfg", reqErr.RequestID)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	require.Len(t, store.errors, 1)
	assert.Equal(t, "req-cfg", store.errors[0].RequestID)
	assert.Contains(t, store.errors[0].Message, "inference credential is not configured")
	assert.Empty(t, store.saved)
}

func TestService_PersistenceFailuresDoNotFailTheRequest(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = errors.New("disk full")
	exporter := &recordingExporter{}
	svc := newTestService(store, nil, exporter)

	result, err := svc.Run(context.Background(), Request{RequestID: "req-disk"}, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Len(t, store.errors, 1)
	assert.Contains(t, store.errors[0].Message, "disk full")
	assert.Empty(t, exporter.exported, "exporters only see saved forecasts")
}

func TestService_ExportFailureIsIgnored(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil, &recordingExporter{err: errors.New("graph unavailable")})

	result, err := svc.Run(context.Background(), Request{}, nil)
	require.NoError(t, err)
	assert.Contains(t, store.saved, result.RequestID)
	assert.Empty(t, store.errors)
}

func TestService_HistoryNewestFirst(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, nil)

	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Run(context.Background(), Request{RequestID: id}, nil)
		require.NoError(t, err)
	}

	history, err := svc.History(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "c", history[0].RequestID)
	assert.Equal(t, "b", history[1].RequestID)
}
