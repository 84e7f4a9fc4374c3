// The main package for the search-crawler executable.
package main

import (
	"github.com/JakeFAU/search-crawler/cmd"
)

func main() {
	cmd.Execute()
}
