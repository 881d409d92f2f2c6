package providers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dearplant/dearplant/services/providers"
	"github.com/dearplant/dearplant/services/providers/providertest"
)

func TestResolver_RegisterResolve(t *testing.T) {
	r := providers.NewResolver()

	require.NoError(t, r.Register(providertest.Succeeding("plantnet", []byte(`{}`))))

	adapter, err := r.Resolve("plantnet")
	require.NoError(t, err)
	assert.Equal(t, "plantnet", adapter.ProviderID())

	_, err = r.Resolve("unknown")
	assert.ErrorIs(t, err, providers.ErrAdapterNotFound)
}

func TestResolver_RejectsDuplicates(t *testing.T) {
	r := providers.NewResolver()

	require.NoError(t, r.Register(providertest.Succeeding("plantnet", []byte(`{}`))))
	err := r.Register(providertest.Failing("plantnet"))
	assert.ErrorIs(t, err, providers.ErrAdapterAlreadyRegistered)

	// Replace swaps the adapter in place
	r.Replace(providertest.Failing("plantnet"))
	adapter, err := r.Resolve("plantnet")
	require.NoError(t, err)
	_, err = adapter.Invoke(context.Background(), &providers.Request{})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want providers.ErrorKind
	}{
		{"transient adapter error", providers.NewTransientError("p", "503", nil), providers.KindTransient},
		{"permanent adapter error", providers.NewPermanentError("p", "bad schema", nil), providers.KindPermanent},
		{"auth adapter error", providers.NewAuthError("p", "401", nil), providers.KindAuth},
		{"wrapped adapter error", errors.Join(errors.New("outer"), providers.NewAuthError("p", "401", nil)), providers.KindAuth},
		{"deadline", context.DeadlineExceeded, providers.KindTransient},
		{"unknown error", errors.New("boom"), providers.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, providers.Classify(tt.err))
		})
	}
}

func TestWasBilled(t *testing.T) {
	billed := providers.NewTransientError("p", "500 after deduction", nil)
	billed.Billed = true

	assert.True(t, providers.WasBilled(billed))
	assert.False(t, providers.WasBilled(providers.NewTransientError("p", "503", nil)))
	assert.False(t, providers.WasBilled(errors.New("boom")))
}
