package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuandriy/mblearn/internal/experiment"
	"github.com/kuandriy/mblearn/internal/options"
)

var (
	testTreeIn string
	testOut    string
)

var testCmd = &cobra.Command{
	Use:   "test <training-file> [test-file...]",
	Short: "Train and score test material",
	Long: `Trains on the first file and scores the rest. With -a LOO the single
training file is scored by leave-one-out; with -a CV every named file in
turn is the held-out fold. With --tree-in the first argument is already a
test file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := buildOptions(cmd)
		if err != nil {
			return err
		}
		log := newLogger()

		if opts.Algorithm == options.CV {
			scores, err := experiment.CrossValidate(opts, log, args)
			if err != nil {
				return err
			}
			sum := experiment.Score{}
			for i, s := range scores {
				fmt.Fprintf(os.Stdout, "fold %d: %d/%d correct (%.4f)\n",
					i+1, s.Correct, s.Total, s.Accuracy())
				sum.Correct += s.Correct
				sum.Total += s.Total
				sum.Ties += s.Ties
			}
			fmt.Fprintf(os.Stdout, "overall: %d/%d correct (%.4f)\n",
				sum.Correct, sum.Total, sum.Accuracy())
			return nil
		}

		exp := experiment.New(opts, log)
		testFiles := args[1:]
		if testTreeIn != "" {
			if err := exp.LoadTree(testTreeIn); err != nil {
				return err
			}
			testFiles = args
		} else if err := exp.Learn(args[0]); err != nil {
			return err
		}

		if opts.Algorithm == options.LOO {
			score, err := exp.LeaveOneOut()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "leave-one-out: %d/%d correct (%.4f), %d ties\n",
				score.Correct, score.Total, score.Accuracy(), score.Ties)
			return nil
		}

		for _, name := range testFiles {
			var out io.Writer
			if testOut != "" {
				f, err := os.Create(testOut)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			score, err := exp.Test(name, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s: %d/%d correct (%.4f), %d ties\n",
				name, score.Correct, score.Total, score.Accuracy(), score.Ties)
		}
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <training-file> [instance...]",
	Short: "Train and classify the instances given as arguments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := buildOptions(cmd)
		if err != nil {
			return err
		}
		exp := experiment.New(opts, newLogger())
		if err := exp.Learn(args[0]); err != nil {
			return err
		}
		for _, line := range args[1:] {
			res, err := exp.Classify(line)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s -> %s\n", line, res.Category.Name())
		}
		return nil
	},
}

func init() {
	testCmd.Flags().StringVarP(&testTreeIn, "tree-in", "i", "", "read the instance base from this file instead of training")
	testCmd.Flags().StringVarP(&testOut, "out", "o", "", "write classified instances to this file")
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(classifyCmd)
}
