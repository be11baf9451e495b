package kv

import (
	"fmt"

	"github.com/spf13/cobra"
)

// runCommand sends the wire command and prints the decoded response
func runCommand(args ...string) error {
	v, err := rpcClient.Do(args...)
	if err != nil {
		return err
	}
	fmt.Println(v.String())
	return nil
}

// wireCmd builds a cobra command that forwards its arguments verbatim
func wireCmd(name, usage, short string, arity int) *cobra.Command {
	return &cobra.Command{
		Use:   usage,
		Short: short,
		Args:  cobra.ExactArgs(arity - 1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCommand(append([]string{name}, args...)...)
		},
	}
}

var (
	getCmd = wireCmd("get", "get [key]",
		"Reads the string value for a key", 2)
	setCmd = wireCmd("set", "set [key] [value]",
		"Sets the string value for a key", 3)
	delCmd = wireCmd("del", "del [key]",
		"Deletes a key", 2)
	keysCmd = wireCmd("keys", "keys",
		"Lists all keys", 1)

	zaddCmd = wireCmd("zadd", "zadd [zset] [score] [name]",
		"Adds a member to a sorted set or updates its score", 4)
	zremCmd = wireCmd("zrem", "zrem [zset] [name]",
		"Removes a member from a sorted set", 3)
	zscoreCmd = wireCmd("zscore", "zscore [zset] [name]",
		"Reads the score of a sorted-set member", 3)
	zqueryCmd = wireCmd("zquery", "zquery [zset] [score] [name] [offset] [limit]",
		"Walks a sorted set forward from the first member >= (score, name)", 6)
	zqueryrCmd = wireCmd("zqueryr", "zqueryr [zset] [score] [name] [offset] [limit]",
		"Walks a sorted set backward from the last member <= (score, name)", 6)
	zcountCmd = wireCmd("zcount", "zcount [zset] [lo-score] [lo-name] [hi-score] [hi-name]",
		"Counts the members in a closed (score, name) range", 6)
	zrankCmd = wireCmd("zrank", "zrank [zset] [name]",
		"Reads the 0-based rank of a sorted-set member", 3)

	pexpireCmd = wireCmd("pexpire", "pexpire [key] [ttl-ms]",
		"Sets a TTL in milliseconds; a negative TTL removes it", 3)
	pttlCmd = wireCmd("pttl", "pttl [key]",
		"Reads the remaining TTL in milliseconds", 2)
)
