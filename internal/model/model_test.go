package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatCredits(t *testing.T) {
	require.Equal(t, "100.00", FormatCredits(10000))
	require.Equal(t, "0.80", FormatCredits(80))
	require.Equal(t, "0.00", FormatCredits(0))
	require.Equal(t, "1.05", FormatCredits(105))
	require.Equal(t, "-0.80", FormatCredits(-80))
	require.Equal(t, "-12.34", FormatCredits(-1234))
}

func TestUserTopic(t *testing.T) {
	require.Equal(t, "dashboard:user:abc", UserTopic("abc"))
}
