package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuandriy/mblearn/internal/experiment"
)

var (
	trainTreeOut string
	trainHashed  bool
)

var trainCmd = &cobra.Command{
	Use:   "train <training-file>",
	Short: "Build an instance base and optionally persist it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := buildOptions(cmd)
		if err != nil {
			return err
		}
		exp := experiment.New(opts, newLogger())
		if err := exp.Learn(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "instance base: %d nodes, %d leaves\n",
			exp.Tree().NodeCount(), exp.Tree().LeafCount())
		for i, w := range exp.Weights() {
			fmt.Fprintf(os.Stdout, "feature %d weight: %g\n", i+1, w)
		}
		if trainTreeOut != "" {
			if err := exp.SaveTree(trainTreeOut, trainHashed); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "instance base written to %s\n", trainTreeOut)
		}
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVarP(&trainTreeOut, "tree-out", "I", "", "write the instance base to this file")
	trainCmd.Flags().BoolVar(&trainHashed, "hashed", false, "write the hashed tree format")
	rootCmd.AddCommand(trainCmd)
}
