package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haulcrm/integrations/pkg/domain/integration"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect the integration catalog",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog templates",
	RunE:  runTemplatesList,
}

var templatesDescribeCmd = &cobra.Command{
	Use:   "describe ID",
	Short: "Show full detail for one template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesDescribe,
}

var flagTemplateCategory string

func init() {
	templatesListCmd.Flags().StringVar(&flagTemplateCategory, "category", "", "Filter by category")

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesDescribeCmd)
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	catalog, err := integration.DefaultCatalog()
	if err != nil {
		return err
	}

	var templates []integration.Template
	if flagTemplateCategory != "" {
		cat := integration.Category(flagTemplateCategory)
		if !cat.IsValid() {
			return fmt.Errorf("unknown category %q", flagTemplateCategory)
		}
		templates = catalog.ByCategory(cat)
	} else {
		templates = catalog.List()
	}

	switch flagOutput {
	case outputJSON:
		printJSON(templates)
	case outputYAML:
		printYAML(templates)
	default:
		t := newTable("ID", "NAME", "PROVIDER", "CATEGORY", "CAPABILITIES")
		for _, tpl := range templates {
			t.AddRow(tpl.ID, tpl.Name, tpl.Provider, string(tpl.Category), strings.Join(tpl.Capabilities, ","))
		}
		t.Flush()
		fmt.Printf("\n%d templates\n", len(templates))
	}
	return nil
}

func runTemplatesDescribe(cmd *cobra.Command, args []string) error {
	catalog, err := integration.DefaultCatalog()
	if err != nil {
		return err
	}

	tpl, err := catalog.Get(args[0])
	if err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(tpl)
	case outputYAML:
		printYAML(tpl)
	default:
		fmt.Printf("ID:        %s\n", tpl.ID)
		fmt.Printf("Name:      %s\n", tpl.Name)
		fmt.Printf("Provider:  %s\n", tpl.Provider)
		fmt.Printf("Category:  %s\n", tpl.Category)
		fmt.Printf("Active:    %s\n", boolToStr(tpl.Active))
		if tpl.Description != "" {
			fmt.Printf("About:     %s\n", tpl.Description)
		}
		if len(tpl.Capabilities) > 0 {
			fmt.Printf("Supports:  %s\n", strings.Join(tpl.Capabilities, ", "))
		}
		if len(tpl.RequiredFields) > 0 {
			fmt.Println("\nRequired configuration:")
			t := newTable("  KEY", "LABEL", "TYPE", "REQUIRED")
			for _, f := range tpl.RequiredFields {
				t.AddRow("  "+f.Key, f.Label, string(f.Type), boolToStr(f.Required))
			}
			t.Flush()
		}
		if tpl.DocumentationURL != "" {
			fmt.Printf("\nDocs: %s\n", tpl.DocumentationURL)
		}
	}
	return nil
}
