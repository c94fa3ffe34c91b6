// Copyright 2024 The go-club Authors
// This file is part of go-club.
//
// go-club is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-club is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-club. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/go-club/store"
)

var consoleCommand = cli.Command{
	Action:    runConsole,
	Name:      "console",
	Usage:     "inspect a store path interactively, read-only",
	ArgsUsage: "<store-path>",
}

const consoleHistoryFile = ".clubpeer_console_history"

// runConsole opens storePath read-only (no endpoint, no engine, no
// networking) and drives a tiny liner-backed REPL over it: "objects" lists
// committed digests, "help" and "exit" are self-explanatory. This exists
// purely for an operator staring at a peer's data directory; it has no
// bearing on peer-to-peer operation.
func runConsole(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: clubpeer console <store-path>")
	}
	st, err := store.Open(ctx.Args().Get(0))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(consoleHistoryFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(consoleHistoryFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("clubpeer console — read-only. Type 'help' for commands.")
	for {
		input, err := line.Prompt("club> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		line.AppendHistory(input)

		switch cmd := strings.TrimSpace(input); cmd {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "help":
			fmt.Println("commands: objects, help, exit")
		case "objects":
			if err := printObjects(st); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		default:
			fmt.Printf("unknown command %q, try 'help'\n", cmd)
		}
	}
}

func printObjects(st *store.Store) error {
	objs, err := st.List()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "digest"})
	for i, d := range objs {
		table.Append([]string{fmt.Sprintf("%d", i), d.Hex()})
	}
	table.Render()
	return nil
}
