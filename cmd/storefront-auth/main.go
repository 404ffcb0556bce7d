// storefront-auth manages the logged-in browser session used by the storefront e2e suite:
// it runs the email + one-time-code login, inspects or clears persisted state, and
// provisions the Gmail token the login reads codes from.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:]))
}
