package main

import (
	"encoding/json"
	"fmt"
	"sort"
)

// printOutput 按指定格式输出结果；text 模式逐行输出 key: value
func printOutput(format string, data map[string]interface{}) error {
	if format == "json" {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, data[k])
	}
	return nil
}
