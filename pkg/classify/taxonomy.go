package classify

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Category is one label of the taxonomy with the keywords that evidence it.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Taxonomy is the closed, ordered set of categories a document can receive.
// Order matters: it breaks ties between equal composite scores.
type Taxonomy struct {
	Categories  []Category `yaml:"categories"`
	DomainTerms []string   `yaml:"domain_terms"`
}

// DefaultTaxonomy covers regulatory and tax guidance.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{
		Categories: []Category{
			{
				Name: "income-tax",
				Keywords: []string{
					"income tax", "taxable income", "deduction", "exemption", "filing status",
					"withholding", "tax return", "standard deduction", "itemized", "adjusted gross income",
					"tax bracket", "dependent", "refund", "personal allowance",
				},
			},
			{
				Name: "business-tax",
				Keywords: []string{
					"corporation", "corporate tax", "business income", "depreciation", "partnership",
					"self-employment", "payroll", "employer", "estimated tax", "capital allowance",
					"sole proprietor", "dividend", "operating loss",
				},
			},
			{
				Name: "indirect-tax",
				Keywords: []string{
					"vat", "value added tax", "sales tax", "gst", "invoice", "input tax",
					"output tax", "reverse charge", "exempt supply", "zero-rated", "place of supply",
					"customs", "excise",
				},
			},
			{
				Name: "international-tax",
				Keywords: []string{
					"treaty", "double taxation", "foreign", "non-resident", "residency",
					"permanent establishment", "transfer pricing", "withholding tax", "expatriate",
					"cross-border", "foreign tax credit",
				},
			},
			{
				Name: "compliance",
				Keywords: []string{
					"penalty", "audit", "deadline", "record keeping", "filing requirement",
					"appeal", "interest charge", "notice", "enforcement", "disclosure",
					"registration", "due date",
				},
			},
			{
				Name: "general-regulation",
				Keywords: []string{
					"regulation", "statute", "guidance", "authority", "requirement",
					"provision", "act", "rule", "amendment", "definition",
				},
			},
		},
		DomainTerms: []string{
			"tax", "taxable", "deduction", "credit", "liability", "assessment",
			"filing", "return", "exemption", "allowance", "withholding", "jurisdiction",
			"regulation", "statute", "provision", "compliance", "penalty", "audit",
			"fiscal", "revenue",
		},
	}
}

// LoadTaxonomy reads a taxonomy from a YAML file. Categories keep file order.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read taxonomy file")
	}

	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to parse taxonomy file")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks that the taxonomy is usable.
func (t *Taxonomy) Validate() error {
	if len(t.Categories) == 0 {
		return errors.New("taxonomy has no categories")
	}
	seen := make(map[string]bool, len(t.Categories))
	for _, c := range t.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return errors.New("taxonomy category without a name")
		}
		if seen[name] {
			return errors.Errorf("duplicate taxonomy category %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Names lists the category names in declaration order.
func (t *Taxonomy) Names() []string {
	names := make([]string, len(t.Categories))
	for i, c := range t.Categories {
		names[i] = c.Name
	}
	return names
}
