package capture

import (
	md "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// markdown turns a picked element's outerHTML into Markdown. The fragment is
// sanitised first so scripts and handlers never reach the output.
type markdown struct {
	policy *bluemonday.Policy
	conv   *md.Converter
}

func newMarkdown() *markdown {
	return &markdown{
		policy: bluemonday.UGCPolicy(),
		conv: md.NewConverter(md.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		)),
	}
}

func (m *markdown) convert(fragment, pageURL string) (string, error) {
	clean := m.policy.Sanitize(fragment)
	return m.conv.ConvertString(clean, md.WithDomain(pageURL))
}
