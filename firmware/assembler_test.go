package firmware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineAssembler(t *testing.T) {
	require := require.New(t)

	t.Run("fragments", func(t *testing.T) {
		var a LineAssembler
		require.Empty(a.Feed([]byte("err")))
		require.Equal(3, a.Pending())
		lines := a.Feed([]byte("or:9\n"))
		require.Equal([]Line{{Text: "error:9"}}, lines)
		require.Zero(a.Pending())
	})

	t.Run("crlf and blank lines", func(t *testing.T) {
		var a LineAssembler
		lines := a.Feed([]byte("ok\r\n\r\n\nok\r"))
		require.Equal([]Line{{Text: "ok"}}, lines)
		lines = a.Feed([]byte("\n"))
		require.Equal([]Line{{Text: "ok"}}, lines)
	})

	t.Run("byte by byte", func(t *testing.T) {
		var a LineAssembler
		input := "ok\r\n<Idle|MPos:0.000,0.000,0.000|FS:0,0>\r\nerror:20\r\n"
		var got []string
		for i := 0; i < len(input); i++ {
			for _, l := range a.Feed([]byte{input[i]}) {
				got = append(got, l.Text)
			}
		}
		require.Equal([]string{"ok", "<Idle|MPos:0.000,0.000,0.000|FS:0,0>", "error:20"}, got)
	})

	t.Run("overlong line", func(t *testing.T) {
		var a LineAssembler
		require.Empty(a.Feed([]byte(strings.Repeat("x", MaxLineLength+100))))
		lines := a.Feed([]byte("\nok\n"))
		require.Len(lines, 2)
		require.True(lines[0].Truncated)
		require.Len(lines[0].Text, MaxLineLength)
		require.Equal(Line{Text: "ok"}, lines[1])
	})

	t.Run("reset", func(t *testing.T) {
		var a LineAssembler
		a.Feed([]byte("partial"))
		a.Reset()
		require.Equal([]Line{{Text: "ok"}}, a.Feed([]byte("ok\n")))
	})
}
