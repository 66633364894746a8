// Package repl implements the interactive shell of hamesh-cli.
//
// Every input line is split into arguments and handed to a run
// function, normally a fresh run of the command tree with the shell's
// connection flags. A line starting with "?" lists the commands
// matching the rest of the line.
package repl
