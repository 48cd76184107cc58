// Package notes assembles release-notes markdown for the distribution
// repository and gates it against accidental secret disclosure before it is
// pushed anywhere.
package notes

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/fyrsmithlabs/relkit/internal/fault"
	"github.com/fyrsmithlabs/relkit/internal/plan"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
)

// Extras carries the operator's optional additions to the generated notes.
type Extras struct {
	// Operator is free text typed by the operator.
	Operator string

	// FromFile is the content of an attached notes file.
	FromFile string
}

// Render builds the release-notes document: a channel header, one commit
// link per pin, and the optional operator and attached sections.
func Render(rp *plan.ReleasePlan, extras Extras) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s %s (%s)\n\n", rp.Product, rp.Tag, rp.Channel)

	b.WriteString("## Pinned repositories\n\n")
	for _, pin := range rp.Pins {
		fmt.Fprintf(&b, "- **%s** [`%s`](https://github.com/%s/commit/%s)\n",
			pin.Repo.ID, readiness.Short(pin.SHA), pin.Repo.Slug, pin.SHA)
	}

	if operator := strings.TrimSpace(extras.Operator); operator != "" {
		b.WriteString("\n## Notes\n\n")
		b.WriteString(operator)
		b.WriteString("\n")
	}
	if attached := strings.TrimSpace(extras.FromFile); attached != "" {
		b.WriteString("\n## Attached notes\n\n")
		b.WriteString(attached)
		b.WriteString("\n")
	}
	return b.String()
}

// LoadFile reads an operator-supplied notes file.
func LoadFile(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", fault.Wrapf(fault.IOFailed, err, "reading notes file %s", path)
	}
	return string(data), nil
}
