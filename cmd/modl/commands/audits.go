package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/audit"
	"github.com/spf13/cobra"
)

// NewAuditsCmd creates the audit registry browser.
func NewAuditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audits [template] [index]",
		Short: "Browse submitted audits",
		Long: `Browse the audit registry.

With no arguments, lists the templates that have audits. With a template
ID, lists its audits. With a template ID and index, shows one audit.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			c := GetClient()

			switch len(args) {
			case 0:
				templates, err := c.AuditTemplates(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(templates)
				}
				if len(templates) == 0 {
					Info("No audits submitted yet")
					return nil
				}
				rows := make([][]string, len(templates))
				for i, t := range templates {
					rows[i] = []string{t.Hex()}
				}
				fmt.Println(RenderTable([]string{"TEMPLATE"}, rows))
				return nil

			case 1:
				id, err := parseHash(args[0])
				if err != nil {
					return err
				}
				audits, err := c.Audits(ctx, id)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(audits)
				}
				rows := make([][]string, len(audits))
				for i, a := range audits {
					rows[i] = []string{
						strconv.Itoa(i),
						FormatAddress(a.Auditor.Hex()),
						strconv.Itoa(int(a.AuditorTier)),
						auditState(a),
						a.SubmittedAt.Format(time.RFC3339),
					}
				}
				fmt.Println(RenderTable([]string{"#", "AUDITOR", "TIER", "STATUS", "SUBMITTED"}, rows))
				return nil

			default:
				id, err := parseHash(args[0])
				if err != nil {
					return err
				}
				index, err := strconv.Atoi(args[1])
				if err != nil || index < 0 {
					return fmt.Errorf("invalid index %q", args[1])
				}
				a, err := c.Audit(ctx, id, index)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(a)
				}
				fields := [][2]string{
					{"Auditor", a.Auditor.Hex()},
					{"Subject", a.Subject.Hex()},
					{"Report", a.ReportURI},
					{"Auditor tier", strconv.Itoa(int(a.AuditorTier))},
					{"Submitted", a.SubmittedAt.Format(time.RFC3339)},
				}
				if a.Status != audit.StatusPending {
					fields = append(fields,
						[2]string{"Verified", a.VerifiedAt.Format(time.RFC3339)},
						[2]string{"Verifier", a.Verifier.Hex()})
				}
				if a.Reward != nil && a.Reward.Sign() > 0 {
					fields = append(fields, [2]string{"Reward", FormatModl(a.Reward)})
				}
				if a.Slashed != nil && a.Slashed.Sign() > 0 {
					fields = append(fields, [2]string{"Slashed", FormatModl(a.Slashed)})
				}
				if a.Disputed {
					fields = append(fields, [2]string{"Dispute", a.DisputeReason})
				}
				fmt.Println(StatusBox(fmt.Sprintf("Audit %d %s", index, StatusBadge(a.Status.String())), fields))
				return nil
			}
		},
	}
}

func auditState(a audit.Audit) string {
	s := StatusBadge(a.Status.String())
	if a.Disputed {
		s += " " + StatusBadge("disputed")
	}
	return s
}

func parseHash(s string) (common.Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid template ID %q", s)
	}
	return common.BytesToHash(b), nil
}
