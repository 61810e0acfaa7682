package image

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixproxy/internal/domain"
	"pixproxy/internal/metrics"
)

type stubGenerator struct {
	img     *Image
	err     error
	calls   int
	prompts []string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	return s.img, s.err
}

type factoryRecorder struct {
	gen  *stubGenerator
	keys []string
}

func (f *factoryRecorder) factory() Factory {
	return func(apiKey string) Generator {
		f.keys = append(f.keys, apiKey)
		return f.gen
	}
}

func TestSelectPrecedence(t *testing.T) {
	cases := []struct {
		name  string
		creds Credentials
		want  Provider
	}{
		{name: "both", creds: Credentials{HuggingFaceAPIKey: "hf", ReplicateAPIKey: "r8"}, want: PreferredProvider},
		{name: "immediate only", creds: Credentials{HuggingFaceAPIKey: "hf"}, want: ProviderImmediate},
		{name: "deferred only", creds: Credentials{ReplicateAPIKey: "r8"}, want: ProviderDeferred},
		{name: "blank immediate", creds: Credentials{HuggingFaceAPIKey: "   ", ReplicateAPIKey: "r8"}, want: ProviderDeferred},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Select(tc.creds)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSelectWithoutCredentials(t *testing.T) {
	_, err := Select(Credentials{})
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.KindMisconfigured, derr.Kind)
	assert.Equal(t, http.StatusInternalServerError, derr.Status())
	assert.Contains(t, derr.Message, "HUGGINGFACE_API_KEY")
	assert.Contains(t, derr.Message, "REPLICATE_API_KEY")
}

func TestSelectorDelegatesToChosenProvider(t *testing.T) {
	immediate := &factoryRecorder{gen: &stubGenerator{img: &Image{Data: []byte("hf"), ContentType: "image/jpeg"}}}
	deferred := &factoryRecorder{gen: &stubGenerator{img: &Image{Data: []byte("r8")}}}
	m := metrics.NewCollector()
	sel := NewSelector(
		Credentials{HuggingFaceAPIKey: "hf-key", ReplicateAPIKey: "r8-key"},
		map[Provider]Factory{ProviderImmediate: immediate.factory(), ProviderDeferred: deferred.factory()},
		SelectorOptions{Metrics: m},
	)

	img, err := sel.Generate(context.Background(), "a cat")
	require.NoError(t, err)
	assert.Equal(t, "hf", string(img.Data))
	assert.Equal(t, string(ProviderImmediate), img.Provider)
	assert.Equal(t, []string{"hf-key"}, immediate.keys)
	assert.Empty(t, deferred.keys)
	assert.Equal(t, []string{"a cat"}, immediate.gen.prompts)
	series, err := testutil.GatherAndCount(m.Registry(), "pixproxy_generation_results_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestSelectorWithoutCredentialsContactsNobody(t *testing.T) {
	immediate := &factoryRecorder{gen: &stubGenerator{}}
	deferred := &factoryRecorder{gen: &stubGenerator{}}
	sel := NewSelector(Credentials{}, map[Provider]Factory{
		ProviderImmediate: immediate.factory(),
		ProviderDeferred:  deferred.factory(),
	}, SelectorOptions{})

	_, err := sel.Generate(context.Background(), "a cat")
	assert.Equal(t, domain.KindMisconfigured, domain.KindOf(err))
	assert.Zero(t, immediate.gen.calls)
	assert.Zero(t, deferred.gen.calls)
	assert.Empty(t, immediate.keys)
	assert.Empty(t, deferred.keys)
}

func TestSelectorPassesProviderErrorThrough(t *testing.T) {
	want := domain.NewError(domain.KindAuthFailure, http.StatusForbidden, "denied")
	deferred := &factoryRecorder{gen: &stubGenerator{err: want}}
	sel := NewSelector(Credentials{ReplicateAPIKey: "r8"}, map[Provider]Factory{ProviderDeferred: deferred.factory()}, SelectorOptions{})

	_, err := sel.Generate(context.Background(), "a cat")
	assert.Same(t, want, domain.AsError(err))
}

func TestSelectorRejectsEmptyImage(t *testing.T) {
	gen := &factoryRecorder{gen: &stubGenerator{img: &Image{}}}
	sel := NewSelector(Credentials{HuggingFaceAPIKey: "hf"}, map[Provider]Factory{ProviderImmediate: gen.factory()}, SelectorOptions{})

	_, err := sel.Generate(context.Background(), "a cat")
	assert.ErrorIs(t, err, domain.ErrNoResult)
}

func TestSelectorMissingFactory(t *testing.T) {
	sel := NewSelector(Credentials{HuggingFaceAPIKey: "hf"}, nil, SelectorOptions{})
	plan, err := sel.Plan()
	require.NoError(t, err)
	assert.Equal(t, ProviderImmediate, plan)

	_, err = sel.Generate(context.Background(), "a cat")
	assert.Equal(t, domain.KindMisconfigured, domain.KindOf(err))
}
