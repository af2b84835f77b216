// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/uart"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List local serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := uart.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Printf("No serial ports found\n")
			return nil
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("%s  USB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.Product, p.SerialNumber)
			} else {
				fmt.Printf("%s\n", p.Name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
