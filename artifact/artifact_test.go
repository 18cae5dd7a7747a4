package artifact

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthrisk/ml"
)

const fixtures = "../testdata/models"

type countingObserver struct {
	mu      sync.Mutex
	loads   int
	evicted []string
}

func (o *countingObserver) BundleLoaded(string, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads++
}

func (o *countingObserver) BundleEvicted(_ string, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evicted = append(o.evicted, reason)
}

func (o *countingObserver) Loads() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loads
}

// copyBundle copies a fixture bundle into a fresh artifacts directory.
func copyBundle(t *testing.T, name string) string {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(fixtures, name)
	dst := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dst, 0o755))

	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	for _, e := range entries {
		in, err := os.Open(filepath.Join(src, e.Name()))
		require.NoError(t, err)
		out, err := os.Create(filepath.Join(dst, e.Name()))
		require.NoError(t, err)
		_, err = io.Copy(out, in)
		require.NoError(t, err)
		in.Close()
		out.Close()
	}
	return root
}

func TestLoadBundle(t *testing.T) {
	b, err := LoadBundle(filepath.Join(fixtures, "maternal_lite"))
	require.NoError(t, err)

	assert.Equal(t, "maternal_lite", b.Name())
	assert.Equal(t, DomainMaternal, b.Manifest.Domain)
	assert.Equal(t, ml.FeatureNames(), b.Features)
	assert.Equal(t, []string{"high risk", "low risk", "mid risk"}, b.Classes())

	vector, err := b.Vector(map[string]float64{
		ml.FeatureAge: 25, ml.FeatureSystolicBP: 120, ml.FeatureDiastolicBP: 80,
		ml.FeatureBS: 7, ml.FeatureBodyTemp: 98, ml.FeatureHeartRate: 75,
	}, ml.MissingFail)
	require.NoError(t, err)

	idx, proba, err := b.Predict(vector)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.InDeltaSlice(t, []float64{0, 0.75, 0.25}, proba, 1e-9)
}

func TestLoadBundleFullFeatureSet(t *testing.T) {
	b, err := LoadBundle(filepath.Join(fixtures, "maternal_full"))
	require.NoError(t, err)

	assert.True(t, b.Manifest.DerivedFeatures)
	assert.Len(t, b.Features, 16)
	assert.Equal(t, ml.FeatureRiskIndex, b.Features[15])
	assert.Equal(t, 16, b.Model.NumFeatures())
}

func TestLoadBundleReportsEveryMismatch(t *testing.T) {
	root := copyBundle(t, "maternal_lite")
	dir := filepath.Join(root, "maternal_lite")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.json"),
		[]byte(`{"run_id": "another-run", "classes": ["high risk", "low risk"]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaler.json"),
		[]byte(`{"kind": "standard", "scale": [1, 1, 1]}`), 0o644))

	_, err := LoadBundle(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMismatch))
	assert.Contains(t, err.Error(), "another-run")
	assert.Contains(t, err.Error(), "scaler has 3 features")
	assert.Contains(t, err.Error(), "2 labels for 3 model classes")
}

func TestLoadBundleMissingArtifact(t *testing.T) {
	root := copyBundle(t, "pcos_lite")
	dir := filepath.Join(root, "pcos_lite")
	require.NoError(t, os.Remove(filepath.Join(dir, "model.json")))

	_, err := LoadBundle(dir)
	assert.ErrorIs(t, err, ErrArtifact)
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "maternal_v3")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("domain: maternal\nmodel_type: random_forest\n"), 0o644))

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "maternal_v3", m.Name)
	assert.Equal(t, "model.json", m.Model)
	assert.Equal(t, "scaler.json", m.Scaler)
	assert.Equal(t, "labels.json", m.Labels)
	assert.Empty(t, m.Features)
}

func TestLoadManifestRejectsPCOSWithoutFeatures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("domain: pcos\nmodel_type: stacking\n"), 0o644))

	_, err := LoadManifest(dir)
	assert.ErrorIs(t, err, ErrArtifact)
}

func TestLoadRulesBundle(t *testing.T) {
	b, err := LoadBundle(filepath.Join(fixtures, "pcos_rules"))
	require.NoError(t, err)
	assert.True(t, b.Rules())
	assert.Nil(t, b.Model)
	assert.Nil(t, b.Classes())
	assert.Equal(t, ml.PCOSRuleFeatures(), b.Features)

	_, _, err = b.Predict([]float64{1})
	assert.ErrorIs(t, err, ErrArtifact)

	b, err = LoadBundle(filepath.Join(fixtures, "maternal_rules"))
	require.NoError(t, err)
	assert.Equal(t, ml.FeatureNames(), b.Features)
	assert.Empty(t, b.Manifest.Model)
}

func TestRegistryWithoutCacheReloads(t *testing.T) {
	obs := &countingObserver{}
	r, err := NewRegistry(RegistryConfig{Dir: fixtures, Observer: obs})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Get("maternal_lite")
	require.NoError(t, err)
	second, err := r.Get("maternal_lite")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, obs.Loads())
	assert.False(t, r.CacheEnabled())
	assert.Empty(t, r.Cached())
}

func TestRegistryCollapsesConcurrentLoads(t *testing.T) {
	obs := &countingObserver{}
	r, err := NewRegistry(RegistryConfig{Dir: fixtures, CacheEnabled: true, CacheSize: 2, Observer: obs})
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	bundles := make([]*Bundle, 16)
	for i := range bundles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := r.Get("pcos_lite")
			assert.NoError(t, err)
			bundles[i] = b
		}(i)
	}
	wg.Wait()

	for _, b := range bundles[1:] {
		assert.Same(t, bundles[0], b)
	}
	assert.Equal(t, 1, obs.Loads())
	assert.Equal(t, []string{"pcos_lite"}, r.Cached())
}

func TestRegistryCapacityEviction(t *testing.T) {
	obs := &countingObserver{}
	r, err := NewRegistry(RegistryConfig{Dir: fixtures, CacheEnabled: true, CacheSize: 1, Observer: obs})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Get("maternal_lite")
	require.NoError(t, err)
	_, err = r.Get("pcos_lite")
	require.NoError(t, err)

	assert.Equal(t, []string{"pcos_lite"}, r.Cached())
	assert.Equal(t, []string{"capacity"}, obs.evicted)
}

func TestRegistryEvictsOnFileChange(t *testing.T) {
	root := copyBundle(t, "maternal_lite")
	r, err := NewRegistry(RegistryConfig{Dir: root, CacheEnabled: true, Watch: true})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Get("maternal_lite")
	require.NoError(t, err)
	require.Equal(t, []string{"maternal_lite"}, r.Cached())

	labels := filepath.Join(root, "maternal_lite", "labels.json")
	data, err := os.ReadFile(labels)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(labels, data, 0o644))

	assert.Eventually(t, func() bool { return len(r.Cached()) == 0 }, 5*time.Second, 20*time.Millisecond)

	second, err := r.Get("maternal_lite")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

// rewritingObserver changes labels.json once while the first load is in flight.
type rewritingObserver struct {
	once   sync.Once
	labels string
	t      *testing.T
}

func (o *rewritingObserver) BundleLoaded(string, time.Duration, error) {
	o.once.Do(func() {
		data := `{"run_id": "maternal-lite-2024-01", "classes": ["a", "b", "c"]}`
		assert.NoError(o.t, os.WriteFile(o.labels, []byte(data), 0o644))
	})
}

func (o *rewritingObserver) BundleEvicted(string, string) {}

func TestRegistryChangeDuringLoadIsNotCachedStale(t *testing.T) {
	root := copyBundle(t, "maternal_lite")
	obs := &rewritingObserver{labels: filepath.Join(root, "maternal_lite", "labels.json"), t: t}
	r, err := NewRegistry(RegistryConfig{Dir: root, CacheEnabled: true, Watch: true, Observer: obs})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Get("maternal_lite")
	require.NoError(t, err)
	assert.Equal(t, []string{"high risk", "low risk", "mid risk"}, first.Classes())

	assert.Eventually(t, func() bool {
		b, err := r.Get("maternal_lite")
		return err == nil && assert.ObjectsAreEqual([]string{"a", "b", "c"}, b.Classes())
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRegistryPurge(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{Dir: fixtures, CacheEnabled: true})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Get("maternal_lite")
	require.NoError(t, err)
	_, err = r.Get("pcos_lite")
	require.NoError(t, err)
	assert.Len(t, r.Cached(), 2)

	r.Purge()
	assert.Empty(t, r.Cached())
}

func TestRegistryEvict(t *testing.T) {
	obs := &countingObserver{}
	r, err := NewRegistry(RegistryConfig{Dir: fixtures, CacheEnabled: true, Observer: obs})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Get("pcos_lite")
	require.NoError(t, err)
	r.Evict("pcos_lite")
	assert.Empty(t, r.Cached())
	assert.Equal(t, []string{"manual"}, obs.evicted)

	second, err := r.Get("pcos_lite")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, obs.Loads())
}

func TestRegistryRejectsEscapingNames(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{Dir: fixtures})
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "../models/maternal_lite", "a/b"} {
		_, err := r.Get(name)
		assert.ErrorIs(t, err, ErrArtifact, name)
	}
}
