package contentdisposition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	testcases := []struct {
		name     string
		got      string
		expected string
	}{
		{name: "plain ascii", got: Inline("a.txt"), expected: `inline; filename="a.txt"`},
		{name: "spaces kept", got: Inline("my report.pdf"), expected: `inline; filename="my report.pdf"`},
		{name: "attachment", got: Attachment("a.txt"), expected: `attachment; filename="a.txt"`},
		{name: "no filename", got: Inline(""), expected: "inline"},
		{name: "quotes escaped", got: Inline(`say "hi".txt`), expected: `inline; filename="say \"hi\".txt"`},
		{name: "backslash escaped", got: Inline(`a\b.txt`), expected: `inline; filename="a\\b.txt"`},
		{
			name:     "diacritics stripped in fallback",
			got:      Inline("résumé.pdf"),
			expected: `inline; filename="resume.pdf"; filename*=UTF-8''r%C3%A9sum%C3%A9.pdf`,
		},
		{
			name:     "non latin replaced in fallback",
			got:      Inline("文件.txt"),
			expected: `inline; filename="??.txt"; filename*=UTF-8''%E6%96%87%E4%BB%B6.txt`,
		},
		{
			name:     "control characters never reach the header",
			got:      Inline("a\r\nb.txt"),
			expected: `inline; filename="a??b.txt"; filename*=UTF-8''a%0D%0Ab.txt`,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.got)
		})
	}
}
