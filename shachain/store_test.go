package shachain

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func secretFromHex(t *testing.T, s string) ledgertypes.Preimage {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	secret, err := ledgertypes.MakePreimage(b)
	require.NoError(t, err)

	return secret
}

// TestProducerVectors checks generation against the published per-commitment
// secret vectors. Raw index 2^48-1 is commitment 0.
func TestProducerVectors(t *testing.T) {
	t.Parallel()

	ff := bytes.Repeat([]byte{0xff}, 32)
	tests := []struct {
		name   string
		root   []byte
		raw    uint64
		secret string
	}{
		{
			name: "zero root, first commitment",
			root: make([]byte, 32),
			raw:  281474976710655,
			secret: "02a40c85b6f28da08dfdbe0926c53fab2de6d28c10301" +
				"f8f7c4073d5e42e3148",
		},
		{
			name: "ff root, first commitment",
			root: ff,
			raw:  281474976710655,
			secret: "7cc854b54e3e0dcdb010d7a3fee464a9687be6e8db3be" +
				"6854c475621e007a5dc",
		},
		{
			name: "ff root, alternate bits 1",
			root: ff,
			raw:  0xaaaaaaaaaaa,
			secret: "56f4008fb007ca9acf0e15b054d5c9fd12ee06cea3479" +
				"14ddbaed70d1c13a528",
		},
		{
			name: "ff root, alternate bits 2",
			root: ff,
			raw:  0x555555555555,
			secret: "9015daaeb06dba4ccc05b91b2f73bd54405f2be9f217f" +
				"bacd3c5ac2e62327d31",
		},
		{
			name: "01 root, last non-trivial",
			root: bytes.Repeat([]byte{0x01}, 32),
			raw:  1,
			secret: "915c75942a26bb3a433a8ce2cb0427c29ec6c1775cfc7" +
				"8328b57f6ba7bfeaa9c",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			root, err := ledgertypes.MakePreimage(test.root)
			require.NoError(t, err)

			producer := NewRevocationProducer(root)
			secret, err := producer.AtIndex(
				index(test.raw).commitment(),
			)
			require.NoError(t, err)
			require.Equal(t, secretFromHex(t, test.secret), secret)
		})
	}
}

// TestStoreInsertVectors feeds the published storage vectors to the store.
// The last secret of each failing case doesn't derive the earlier ones.
func TestStoreInsertVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		secrets []string
		valid   bool
	}{
		{
			name: "correct sequence",
			secrets: []string{
				"7cc854b54e3e0dcdb010d7a3fee464a9687be6e8db3be6854c475621e007a5dc",
				"c7518c8ae4660ed02894df8976fa1a3659c1a8b4b5bec0c4b872abeba4cb8964",
				"2273e227a5b7449b6e70f1fb4652864038b1cbf9cd7c043a7d6456b7fc275ad8",
				"27cddaa5624534cb6cb9d7da077cf2b22ab21e9b506fd4998a51d54502e99116",
				"c65716add7aa98ba7acb236352d665cab17345fe45b55fb879ff80e6bd0c41dd",
				"969660042a28f32d9be17344e09374b379962d03db1574df5a8a5a47e19ce3f2",
				"a5a64476122ca0925fb344bdc1854c1c0a59fc614298e50a33e331980a220f32",
				"05cde6323d949933f7f7b78776bcc1ea6d9b31447732e3802e1f7ac44b650e17",
			},
			valid: true,
		},
		{
			name: "second secret from another chain",
			secrets: []string{
				"02a40c85b6f28da08dfdbe0926c53fab2de6d28c10301f8f7c4073d5e42e3148",
				"c7518c8ae4660ed02894df8976fa1a3659c1a8b4b5bec0c4b872abeba4cb8964",
			},
			valid: false,
		},
		{
			name: "fourth secret exposes an earlier forgery",
			secrets: []string{
				"02a40c85b6f28da08dfdbe0926c53fab2de6d28c10301f8f7c4073d5e42e3148",
				"dddc3a8d14fddf2b68fa8c7fbad2748274937479dd0f8930d5ebb4ab6bd866a3",
				"2273e227a5b7449b6e70f1fb4652864038b1cbf9cd7c043a7d6456b7fc275ad8",
				"27cddaa5624534cb6cb9d7da077cf2b22ab21e9b506fd4998a51d54502e99116",
			},
			valid: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := NewRevocationStore()
			last := len(test.secrets) - 1
			for i, s := range test.secrets[:last] {
				err := store.AddNextEntry(secretFromHex(t, s))
				require.NoError(t, err, "secret %d", i)
			}

			err := store.AddNextEntry(
				secretFromHex(t, test.secrets[last]),
			)
			if test.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrSecretMismatch)
		})
	}
}

// TestStoreRoundTrip fills a store from a producer, serializes it and looks
// every secret up again.
func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	root, err := ledgertypes.RandomPreimage()
	require.NoError(t, err)
	producer := NewRevocationProducer(root)
	store := NewRevocationStore()

	const numSecrets = 1000
	for n := uint64(0); n < numSecrets; n++ {
		secret, err := producer.AtIndex(n)
		require.NoError(t, err)
		require.NoError(t, store.AddNextEntry(secret))
	}
	require.EqualValues(t, numSecrets, store.NumEntries())

	var b bytes.Buffer
	require.NoError(t, store.Encode(&b))
	restored, err := NewRevocationStoreFromBytes(&b)
	require.NoError(t, err)
	require.Equal(t, store, restored)

	_, err = restored.LookUp(numSecrets)
	require.Error(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.Uint64Range(0, numSecrets-1).Draw(rt, "n")

		want, err := producer.AtIndex(n)
		require.NoError(rt, err)

		got, err := restored.LookUp(n)
		require.NoError(rt, err)
		require.Equal(rt, want, got)
	})

	// The producer survives a round trip as well.
	var pb bytes.Buffer
	require.NoError(t, producer.Encode(&pb))
	restoredProducer, err := NewRevocationProducerFromBytes(&pb)
	require.NoError(t, err)
	require.Equal(t, producer, restoredProducer)
}
