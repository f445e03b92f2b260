package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Process(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		opts Options
		want string
	}{
		{
			name: "zero options change nothing",
			in:   "  <b>Hi</b>\n```x```\n",
			want: "  <b>Hi</b>\n```x```\n",
		},
		{
			name: "tags and trim",
			in:   "  <b>Hi</b>  ",
			opts: Options{RemoveXMLTags: true, TrimWhitespace: true},
			want: "Hi",
		},
		{
			name: "tags with attributes and self-closing",
			in:   `<p class="x">One<br/>Two</p>`,
			opts: Options{RemoveXMLTags: true},
			want: "OneTwo",
		},
		{
			name: "comparison operators are not tags",
			in:   "a < b and c > d",
			opts: Options{RemoveXMLTags: true},
			want: "a < b and c > d",
		},
		{
			name: "code blocks",
			in:   "Before\n```json\n{\"a\":1}\n```\nAfter",
			opts: Options{RemoveCodeBlocks: true},
			want: "Before\n\nAfter",
		},
		{
			name: "truncate after second heading",
			in:   "# Chapter 1\nText one.\n# Chapter 2\nText two.",
			opts: Options{TruncateAfterSecondHeader: true},
			want: "# Chapter 1\nText one.",
		},
		{
			name: "truncate when first heading is not on line one",
			in:   "Preface\n# Chapter 1\nText.\n# Chapter 2\nMore.",
			opts: Options{TruncateAfterSecondHeader: true},
			want: "Preface\n# Chapter 1\nText.",
		},
		{
			name: "single heading untouched",
			in:   "# Chapter 1\nText.\n## Section\nMore.",
			opts: Options{TruncateAfterSecondHeader: true},
			want: "# Chapter 1\nText.\n## Section\nMore.",
		},
		{
			name: "order: trim runs before truncation",
			in:   "\n# Chapter 1\nText.\n# Chapter 2",
			opts: Options{TrimWhitespace: true, TruncateAfterSecondHeader: true},
			want: "# Chapter 1\nText.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Process(tc.in, tc.opts))
		})
	}
}

func Test_Process_NestedTags(t *testing.T) {
	t.Parallel()
	o := Options{RemoveXMLTags: true}
	assert.Equal(t, "", Process("<<b>b>", o))
	assert.Equal(t, "x", Process("<<i>p>x</p>", o))
	assert.Equal(t, "a < b > c", Process("a < b > c", o))
}

func Test_Process_Idempotent(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"  <b>Hi</b>  ",
		"# A\nx\n# B\ny\n# C\nz",
		"Intro\n# A\nx\n# B\ny",
		"\n\n<i>text</i>\n\n",
		"<<b>b>",
		"<<i>p>x</p>",
		"a < b > c",
	}
	opts := []Options{
		{TrimWhitespace: true},
		{RemoveXMLTags: true},
		{TruncateAfterSecondHeader: true},
		{RemoveXMLTags: true, TrimWhitespace: true, TruncateAfterSecondHeader: true},
	}
	for _, in := range inputs {
		for _, o := range opts {
			once := Process(in, o)
			assert.Equal(t, once, Process(once, o), "input %q opts %+v", in, o)
		}
	}
}
