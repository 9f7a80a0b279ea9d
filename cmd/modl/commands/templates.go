package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/template"
	"github.com/spf13/cobra"
)

// NewTemplatesCmd creates the template catalog browser.
func NewTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates [template]",
		Short: "Browse the template catalog",
		Long: `Browse registered templates.

With no arguments, lists the catalog in registration order. With a
template ID, shows one entry.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			c := GetClient()

			if len(args) == 1 {
				id, err := parseHash(args[0])
				if err != nil {
					return err
				}
				t, err := c.Template(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(t)
				}
				fields := [][2]string{
					{"Name", t.Name},
					{"Version", t.Version},
					{"Type", t.Kind.String()},
					{"Author", t.Author.Hex()},
					{"Implementation", t.Implementation.Hex()},
					{"Registered", t.RegisteredAt.Format(time.RFC3339)},
				}
				if t.Audited {
					fields = append(fields, [2]string{"Audit", t.AuditHash})
				}
				fmt.Println(StatusBox(fmt.Sprintf("Template %s %s", t.ID.Hex(), StatusBadge(templateState(*t))), fields))
				return nil
			}

			list, err := c.Templates(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(list)
			}
			if len(list) == 0 {
				Info("No templates registered yet")
				return nil
			}
			rows := make([][]string, len(list))
			for i, t := range list {
				rows[i] = []string{t.ID.Hex(), t.Name, t.Version, t.Kind.String(), templateState(t)}
			}
			fmt.Println(RenderTable([]string{"TEMPLATE", "NAME", "VERSION", "TYPE", "STATUS"}, rows))
			return nil
		},
	}
}

// NewProjectsCmd creates the project browser.
func NewProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects [owner]",
		Short: "List an owner's projects and their modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("invalid address %q", args[0])
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			projects, err := GetClient().Projects(ctx, common.HexToAddress(args[0]))
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(projects)
			}
			if len(projects) == 0 {
				Info("No projects")
				return nil
			}
			var rows [][]string
			for _, p := range projects {
				id := strconv.FormatUint(p.ID, 10)
				if len(p.Modules) == 0 {
					rows = append(rows, []string{id, p.Name, "-", "-"})
				}
				for _, m := range p.Modules {
					rows = append(rows, []string{id, p.Name, FormatAddress(m.Instance.Hex()), m.Metadata})
				}
			}
			fmt.Println(RenderTable([]string{"#", "PROJECT", "MODULE", "METADATA"}, rows))
			return nil
		},
	}
}

func templateState(t template.Template) string {
	switch {
	case t.Deprecated:
		return "deprecated"
	case t.Verified:
		return "verified"
	case t.Audited:
		return "audited"
	}
	return "unverified"
}
