package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/model"
	"github.com/BoweryJG/clearverify-patient/internal/verification"
)

var (
	verifyInsurer   string
	verifyMemberID  string
	verifyFirstName string
	verifyLastName  string
	verifyUsername  string
	verifyPassword  string
	verifyDOB       string
	verifySSN       string
	verifyZip       string
	verifyProcedure string
	verifyConsent   bool

	batchFile        string
	batchConcurrency int
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify one patient's eligibility through the insurer portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "verify", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		ins := model.InsuranceInfo{
			InsuranceName: verifyInsurer,
			MemberID:      verifyMemberID,
			FirstName:     verifyFirstName,
			LastName:      verifyLastName,
		}
		creds := model.PatientCredentials{
			Username:    verifyUsername,
			Password:    verifyPassword,
			DateOfBirth: verifyDOB,
			LastFourSSN: verifySSN,
			ZipCode:     verifyZip,
		}
		if err := requestValidator.Struct(verification.Request{Insurance: ins, Credentials: creds}); err != nil {
			return eris.Wrap(err, "verify: invalid input")
		}

		resp := env.Service.Verify(ctx, ins, creds, verifyProcedure)
		if resp.RequiresPatientConsent {
			if !verifyConsent {
				zap.L().Info("portal is new; rerun with --consent once the patient agrees to a test login",
					zap.String("insurer", ins.InsuranceName),
				)
				return printJSON(cmd.OutOrStdout(), resp)
			}
			if resp, err = env.Service.ConfirmPending(ctx, resp.VerificationID, creds); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var verifyBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Verify a JSON array of requests concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reqs, err := readBatch(batchFile)
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "verify", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency <= 0 || concurrency > cfg.Automation.MaxSessions {
			concurrency = cfg.Automation.MaxSessions
		}

		responses := env.Service.VerifyBatch(ctx, reqs, concurrency)

		succeeded := 0
		for _, r := range responses {
			if r.Success {
				succeeded++
			}
		}
		zap.L().Info("batch complete",
			zap.Int("requests", len(reqs)),
			zap.Int("succeeded", succeeded),
		)
		return printJSON(cmd.OutOrStdout(), responses)
	},
}

// readBatch loads and validates batch requests.
func readBatch(path string) ([]verification.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "verify: read batch %s", path)
	}
	var reqs []verification.Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, eris.Wrapf(err, "verify: parse batch %s", path)
	}
	for i := range reqs {
		if err := requestValidator.Struct(reqs[i]); err != nil {
			return nil, eris.Wrapf(err, "verify: request %d", i)
		}
	}
	return reqs, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	f := verifyCmd.Flags()
	f.StringVar(&verifyInsurer, "insurer", "", "insurance company name (required)")
	f.StringVar(&verifyMemberID, "member-id", "", "member ID from the insurance card")
	f.StringVar(&verifyFirstName, "first-name", "", "patient first name")
	f.StringVar(&verifyLastName, "last-name", "", "patient last name")
	f.StringVar(&verifyUsername, "username", "", "patient portal username")
	f.StringVar(&verifyPassword, "password", "", "patient portal password")
	f.StringVar(&verifyDOB, "dob", "", "patient date of birth")
	f.StringVar(&verifySSN, "ssn-last4", "", "last four digits of the patient SSN")
	f.StringVar(&verifyZip, "zip", "", "patient zip code")
	f.StringVar(&verifyProcedure, "procedure", "", "procedure code, e.g. D0120")
	f.BoolVar(&verifyConsent, "consent", false, "patient consents to a test login on a new portal")
	_ = verifyCmd.MarkFlagRequired("insurer")

	verifyBatchCmd.Flags().StringVar(&batchFile, "file", "", "JSON file with an array of requests (required)")
	verifyBatchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel verifications (default automation.max_sessions)")
	_ = verifyBatchCmd.MarkFlagRequired("file")

	verifyCmd.AddCommand(verifyBatchCmd)
	rootCmd.AddCommand(verifyCmd)
}
