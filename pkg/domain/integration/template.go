package integration

// Category classifies an integration template.
type Category string

const (
	CategoryAccounting    Category = "accounting"
	CategoryPayment       Category = "payment"
	CategoryCommunication Category = "communication"
	CategoryCRM           Category = "crm"
	CategoryMarketing     Category = "marketing"
	CategoryCompliance    Category = "compliance"
	CategoryCustom        Category = "custom"
)

// IsValid returns true if the category is valid.
func (c Category) IsValid() bool {
	switch c {
	case CategoryAccounting, CategoryPayment, CategoryCommunication,
		CategoryCRM, CategoryMarketing, CategoryCompliance, CategoryCustom:
		return true
	}
	return false
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// AllCategories returns every valid category.
func AllCategories() []Category {
	return []Category{
		CategoryAccounting,
		CategoryPayment,
		CategoryCommunication,
		CategoryCRM,
		CategoryMarketing,
		CategoryCompliance,
		CategoryCustom,
	}
}

// FieldType describes how a required config field should be rendered and parsed.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypePassword FieldType = "password"
	FieldTypeURL      FieldType = "url"
	FieldTypeSelect   FieldType = "select"
)

// ConfigField describes one configuration field a template requires.
type ConfigField struct {
	Key      string    `yaml:"key" json:"key"`
	Label    string    `yaml:"label" json:"label"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	Options  []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

// Template is an immutable catalog entry describing a supported provider.
type Template struct {
	ID                string        `yaml:"id" json:"id"`
	Name              string        `yaml:"name" json:"name"`
	Provider          string        `yaml:"provider" json:"provider"`
	Category          Category      `yaml:"category" json:"category"`
	Description       string        `yaml:"description" json:"description"`
	Capabilities      []string      `yaml:"capabilities" json:"capabilities"`
	RequiredFields    []ConfigField `yaml:"required_fields" json:"required_fields"`
	SetupInstructions string        `yaml:"setup_instructions" json:"setup_instructions"`
	DocumentationURL  string        `yaml:"documentation_url" json:"documentation_url"`
	Active            bool          `yaml:"active" json:"active"`
}

// MissingFields returns the keys of required fields absent from config.
func (t Template) MissingFields(config map[string]string) []string {
	var missing []string
	for _, f := range t.RequiredFields {
		if !f.Required {
			continue
		}
		if v, ok := config[f.Key]; !ok || v == "" {
			missing = append(missing, f.Key)
		}
	}
	return missing
}
