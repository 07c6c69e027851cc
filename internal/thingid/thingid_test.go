package thingid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"single digit", "a", 10},
		{"multi digit", "10", 36},
		{"uppercase", "ZZ", 1295},
		{"fullname", "t3_10", 36},
		{"real id", "hvclno", 1080581028},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("")
	assert.ErrorIs(t, err, ErrEmptyID)

	_, err = Decode("t3_")
	assert.ErrorIs(t, err, ErrEmptyID)

	_, err = Decode("not-base36!")
	assert.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, 35, 36, 99, 1080581028} {
		got, err := Decode(Encode(n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}

func TestFullnameAndSplit(t *testing.T) {
	name := Fullname(Link, 36)
	assert.Equal(t, "t3_10", name)

	kind, id := Split(name)
	assert.Equal(t, Link, kind)
	assert.Equal(t, "10", id)

	kind, id = Split("abc")
	assert.Equal(t, Kind(""), kind)
	assert.Equal(t, "abc", id)
}

func TestRange(t *testing.T) {
	assert.Equal(t, []string{"t1_a", "t1_b", "t1_c"}, Range(Comment, 10, 12))
	assert.Nil(t, Range(Comment, 5, 4))
}
