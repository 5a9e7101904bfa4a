package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	mbp "go.storefront.dev/core/mainboilerplate"
	"go.storefront.dev/core/storage"
	"gopkg.in/yaml.v2"
)

type cmdStorageList struct {
	Prefix string `long:"prefix" short:"p" description:"List only keys having this prefix"`
	Format string `long:"format" short:"o" choice:"table" choice:"yaml" choice:"json" default:"table" description:"Output format"`
	Values bool   `long:"values" description:"Show the value of each key (table format)"`
}

type cmdStorageGet struct {
	Args struct {
		Key string `positional-arg-name:"KEY" required:"true"`
	} `positional-args:"yes"`
}

type cmdStorageRemove struct {
	Args struct {
		Keys []string `positional-arg-name:"KEY" required:"1"`
	} `positional-args:"yes"`
}

// storedItem is an output record of "storage list".
type storedItem struct {
	Key   string `yaml:"key" json:"key"`
	Size  int    `yaml:"size" json:"size"`
	Value string `yaml:"value" json:"value"`
}

func init() {
	commands.AddCommand("", "storage", "Inspect durable storage", `
Inspect and modify the durable (local) storage of a storefront, as selected
by the --storage.* options. Keys are composed of the persisted slice and its
context, for example "cart_electronics" or "checkout_electronics_<cart-id>".
`, &struct{}{})

	commands.AddCommand("storage", "list", "List stored keys", `
List stored keys and their sizes.

Results can be output in a variety of --format options:
table: Prints as a table (use --values to include values)
yaml:  Prints a YAML sequence of keys, sizes and values
json:  Prints items encoded as JSON, one per line
`, &cmdStorageList{})

	commands.AddCommand("storage", "get", "Print the value of a key", `
Print the stored value of KEY. It's an error if KEY is not present.
`, &cmdStorageGet{})

	commands.AddCommand("storage", "rm", "Remove keys", `
Remove each KEY from storage. Removing an absent key is not an error.

A running storefront re-reads a removed key only if its storage notifies of
external changes (file and etcd storage do).
`, &cmdStorageRemove{})
}

func (cmd *cmdStorageList) Execute([]string) error {
	var backend = mustOpenLocal()

	var lister, ok = backend.(storage.Lister)
	if !ok {
		return errors.Errorf("%s storage does not support listing", Config.Storage.Kind)
	}
	keys, err := lister.Keys(cmd.Prefix)
	mbp.Must(err, "failed to list keys", "prefix", cmd.Prefix)

	var items []storedItem
	for _, key := range keys {
		var value, ok, err = backend.GetItem(key)
		mbp.Must(err, "failed to read key", "key", key)

		if ok {
			items = append(items, storedItem{Key: key, Size: len(value), Value: value})
		}
	}

	switch cmd.Format {
	case "table":
		cmd.outputTable(items)
	case "yaml":
		var b, err = yaml.Marshal(items)
		mbp.Must(err, "failed to encode items")
		_, _ = os.Stdout.Write(b)
	case "json":
		var enc = json.NewEncoder(os.Stdout)
		for _, item := range items {
			mbp.Must(enc.Encode(item), "failed to encode item")
		}
	}
	return nil
}

func (cmd *cmdStorageList) outputTable(items []storedItem) {
	var table = tablewriter.NewWriter(os.Stdout)

	var headers = []string{"Key", "Size"}
	if cmd.Values {
		headers = append(headers, "Value")
	}
	table.SetHeader(headers)

	for _, item := range items {
		var row = []string{item.Key, humanize.Bytes(uint64(item.Size))}
		if cmd.Values {
			row = append(row, item.Value)
		}
		table.Append(row)
	}
	table.Render()
}

func (cmd *cmdStorageGet) Execute([]string) error {
	var value, ok, err = mustOpenLocal().GetItem(cmd.Args.Key)
	mbp.Must(err, "failed to read key", "key", cmd.Args.Key)

	if !ok {
		return errors.Errorf("key %q is not present", cmd.Args.Key)
	}
	fmt.Println(value)
	return nil
}

func (cmd *cmdStorageRemove) Execute([]string) error {
	var backend = mustOpenLocal()

	for _, key := range cmd.Args.Keys {
		mbp.Must(backend.RemoveItem(key), "failed to remove key", "key", key)
		fmt.Printf("removed %s\n", key)
	}
	return nil
}

func mustOpenLocal() storage.Backend {
	mbp.InitLog(Config.Log)

	if Config.Storage.Disabled {
		mbp.Must(errors.New("storage is disabled"), "cannot inspect storage")
	}
	return Config.Storage.MustOpen(&Config.Etcd).Backend(storage.LocalStorage)
}
