package mainboilerplate

import (
	"strings"

	"github.com/jessevdk/go-flags"
)

// AddCommandFunc adds a sub-command to a parent flags.Command.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry builds a tree of go-flags sub-commands from registrations
// made independently, typically from init functions of the files which
// implement each command. Parents are named by dot-separated paths from the
// root: "storage" and "storage.list" are the "storage" command and its
// "list" sub-command.
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry returns an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry { return make(CommandRegistry) }

// AddCommand registers a command |name| under |parent|, having the
// descriptions and configuration |data| of flags.Command.AddCommand.
func (cr CommandRegistry) AddCommand(parent, name, short, long string, data interface{}) {
	cr[parent] = append(cr[parent], func(cmd *flags.Command) error {
		_, err := cmd.AddCommand(name, short, long, data)
		return err
	})
}

// AddCommands adds all commands registered under |rootName| to |root|, and
// then recursively adds commands registered under each of its sub-commands.
func (cr CommandRegistry) AddCommands(rootName string, root *flags.Command) error {
	for _, fn := range cr[rootName] {
		if err := fn(root); err != nil {
			return err
		}
	}
	for _, cmd := range root.Commands() {
		var name = strings.TrimPrefix(rootName+"."+cmd.Name, ".")

		if err := cr.AddCommands(name, cmd); err != nil {
			return err
		}
	}
	return nil
}
