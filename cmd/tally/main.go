// Tally - multi-region cloud inventory and tag analysis
// Collect. Report. Repeat.
package main

func main() {
	Execute()
}
