package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"cppdev/internal/errs"
	"cppdev/internal/provision"
	"cppdev/internal/runner"
	"cppdev/internal/task"
	"cppdev/internal/tools"
	"cppdev/internal/tui"
)

var (
	installForce   bool
	resolveInstall bool
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Resolve and provision toolchain components",
	}

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsResolveCmd())
	cmd.AddCommand(newToolsInstallCmd())
	cmd.AddCommand(newToolsVerifyCmd())
	cmd.AddCommand(newToolsForgetCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List resolved tool statuses",
		RunE:  runToolsList,
	}
}

func newToolsResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <tool>",
		Short: "Print the resolved path of a tool",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsResolve,
	}
	cmd.Flags().BoolVar(&resolveInstall, "install", false, "Provision the tool when it cannot be found")
	return cmd
}

func newToolsInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install [tool|all]",
		Short: "Download, install and verify missing tools",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runToolsInstall,
	}
	cmd.Flags().BoolVar(&installForce, "force", false, "Install even when the tool already resolves")
	return cmd
}

func newToolsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <tool>",
		Short: "Check for a tool installed by a previously launched installer",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsVerify,
	}
}

func newToolsForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <tool|all>",
		Short: "Drop cached tool locations so they are rediscovered",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsForget,
	}
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	statuses := s.Resolver.Detect(cmd.Context(), runner.CmdRunner{})
	if outputJSON {
		return writeJSON(cmd, statuses)
	}
	printStatusTable(cmd, statuses)
	return nil
}

func runToolsResolve(cmd *cobra.Command, args []string) error {
	kind, err := parseKindArg(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	resolved, err := s.Resolver.Resolve(cmd.Context(), kind)
	if err != nil && resolveInstall && errors.Is(err, errs.ErrNotFound) {
		results, installErr := installKinds(cmd, s, []tools.Kind{kind})
		if installErr != nil {
			return installErr
		}
		if len(results) == 1 && results[0].State == provision.StateInstalled {
			resolved, err = s.Resolver.Resolve(cmd.Context(), kind)
		}
	}
	if err != nil {
		return err
	}

	if outputJSON {
		return writeJSON(cmd, resolved)
	}
	cmd.Printf("%s\t%s\t(%s)\n", resolved.Kind, resolved.Path, resolved.Source)
	return nil
}

func runToolsInstall(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	target := "all"
	if len(args) == 1 {
		target = strings.ToLower(args[0])
	}

	var kinds []tools.Kind
	if target == "all" {
		for _, kind := range tools.Kinds(s.Resolver.Defs) {
			if _, ok := s.Config.Tool(string(kind)); ok {
				kinds = append(kinds, kind)
			}
		}
	} else {
		kind, err := parseKindArg(target)
		if err != nil {
			return err
		}
		kinds = []tools.Kind{kind}
	}

	var pending []tools.Kind
	var skipped []provision.Result
	for _, kind := range kinds {
		if !installForce {
			if resolved, err := s.Resolver.Resolve(cmd.Context(), kind); err == nil {
				skipped = append(skipped, provision.Result{Kind: kind, State: provision.StateInstalled, Path: resolved.Path})
				continue
			}
		}
		pending = append(pending, kind)
	}

	results, installErr := installKinds(cmd, s, pending)
	results = append(skipped, results...)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Kind < results[j].Kind })

	if outputJSON {
		if err := writeJSON(cmd, results); err != nil {
			return err
		}
	} else {
		printInstallTable(cmd, results)
	}
	return installErr
}

// installKinds provisions kinds concurrently and joins their errors.
func installKinds(cmd *cobra.Command, s *session, kinds []tools.Kind) ([]provision.Result, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	prov := s.provisioner()

	specs := make([]jobSpec[provision.Result], 0, len(kinds))
	var setupErrs []error
	for _, kind := range kinds {
		job, err := s.provisionJob(kind)
		if err != nil {
			setupErrs = append(setupErrs, err)
			continue
		}
		specs = append(specs, jobSpec[provision.Result]{
			Key:   string(kind),
			Label: string(kind),
			Work: func(ctx context.Context, ctl *task.Control) (provision.Result, error) {
				return prov.Provision(ctx, job, ctl)
			},
			Fields: provisionFields,
		})
	}

	return collectProvisionResults(runJobs(cmd, s, "Provisioning tools", specs), specs, setupErrs)
}

func runToolsVerify(cmd *cobra.Command, args []string) error {
	kind, err := parseKindArg(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	job, err := s.provisionJob(kind)
	if err != nil {
		return err
	}
	prov := s.provisioner()
	specs := []jobSpec[provision.Result]{{
		Key:   string(kind),
		Label: string(kind),
		Work: func(ctx context.Context, ctl *task.Control) (provision.Result, error) {
			return prov.Verify(ctx, job, ctl)
		},
		Fields: provisionFields,
	}}

	results, verifyErr := collectProvisionResults(runJobs(cmd, s, "Verifying "+string(kind), specs), specs, nil)
	if outputJSON {
		if err := writeJSON(cmd, results); err != nil {
			return err
		}
	} else {
		printInstallTable(cmd, results)
	}
	return verifyErr
}

func runToolsForget(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var kinds []tools.Kind
	if strings.EqualFold(args[0], "all") {
		kinds = tools.Kinds(s.Resolver.Defs)
	} else {
		kind, err := parseKindArg(args[0])
		if err != nil {
			return err
		}
		kinds = []tools.Kind{kind}
	}
	for _, kind := range kinds {
		if err := s.Resolver.Forget(kind); err != nil {
			return fmt.Errorf("forget %s: %w", kind, err)
		}
	}
	if !outputJSON {
		cmd.Printf("Forgot %d cached tool location(s)\n", len(kinds))
	}
	return nil
}

func collectProvisionResults(results []task.Result[provision.Result], specs []jobSpec[provision.Result], errList []error) ([]provision.Result, error) {
	out := make([]provision.Result, 0, len(results))
	for i, r := range results {
		value := r.Value
		if value.Kind == "" {
			value.Kind = tools.Kind(specs[i].Key)
		}
		switch r.Outcome {
		case task.OutcomeError:
			errList = append(errList, fmt.Errorf("%s: %w", specs[i].Key, r.Err))
		case task.OutcomeCancelled:
			errList = append(errList, fmt.Errorf("%s: %w", specs[i].Key, errs.ErrCancelled))
		}
		out = append(out, value)
	}
	return out, errors.Join(errList...)
}

func provisionFields(res provision.Result) map[string]string {
	fields := map[string]string{"STATUS": string(res.State)}
	switch res.State {
	case provision.StateInstalled:
		fields["DETAIL"] = res.Path
	case provision.StatePendingManual:
		fields["DETAIL"] = "finish the installer, then run: cppdev tools verify " + string(res.Kind)
	}
	return fields
}

func parseKindArg(value string) (tools.Kind, error) {
	kind, ok := tools.ParseKind(value)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", value)
	}
	return kind, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func printStatusTable(cmd *cobra.Command, statuses []tools.Status) {
	if len(statuses) == 0 {
		cmd.Println("(no tool statuses)")
		return
	}

	rows := make([]tools.Status, len(statuses))
	copy(rows, statuses)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Tool < rows[j].Tool
	})

	cmd.Printf("%-10s %-16s %-14s %-5s %s\n", "Tool", "Source", "Version", "OK", "Path")
	for _, st := range rows {
		ok := "no"
		if st.Found {
			ok = "yes"
		}
		path := st.Path
		if path == "" {
			path = "(missing)"
		}
		cmd.Printf("%-10s %-16s %-14s %-5s %s\n", st.Tool, tui.NonEmptyOrDash(string(st.Source)), tui.NonEmptyOrDash(st.Version), ok, path)
		if st.Error != "" {
			cmd.Printf("  error: %s\n", st.Error)
		}
		for _, note := range st.Notes {
			cmd.Printf("  hint: %s\n", note)
		}
	}
}

func printInstallTable(cmd *cobra.Command, results []provision.Result) {
	if len(results) == 0 {
		cmd.Println("(nothing to install)")
		return
	}
	cmd.Printf("%-10s %-15s %s\n", "Tool", "State", "Path")
	for _, r := range results {
		cmd.Printf("%-10s %-15s %s\n", r.Kind, tui.NonEmptyOrDash(string(r.State)), tui.NonEmptyOrDash(r.Path))
		for _, w := range r.Warnings {
			cmd.Printf("  warning: %s\n", w)
		}
		if r.State == provision.StatePendingManual {
			cmd.Printf("  finish the installer, then run: cppdev tools verify %s\n", r.Kind)
		}
	}
}

