// nexconv converges hosted repositories and scheduled tasks on
// repository managers to the state declared in a manifest.
package main

func main() {
	Execute()
}
