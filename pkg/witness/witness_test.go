package witness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeIsDeterministic(t *testing.T) {
	w := FromStrings("job-1", "model-a", "prompt", "response")
	a := w.Serialize()
	b := w.Serialize()
	require.Equal(t, a, b)
}

func TestEqualReflectsSerialization(t *testing.T) {
	w1 := FromStrings("job-1", "model-a", "prompt", "response")
	w2 := FromStrings("job-1", "model-a", "prompt", "response")
	w3 := FromStrings("job-2", "model-a", "prompt", "response")

	require.True(t, w1.Equal(w2))
	require.False(t, w1.Equal(w3))
}

func TestFingerprintDiffersOnAnyFieldChange(t *testing.T) {
	base := FromStrings("job-1", "model-a", "prompt", "response")
	changedJob := FromStrings("job-2", "model-a", "prompt", "response")
	changedOutput := FromStrings("job-1", "model-a", "prompt", "different")

	require.NotEqual(t, base.Fingerprint(), changedJob.Fingerprint())
	require.NotEqual(t, base.Fingerprint(), changedOutput.Fingerprint())
}
