// Command holdctl runs pool worker processes and one-shot local predictions.
package main

func main() {
	Execute()
}
