package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sirc/internal/topic"
)

var topicProjects []string

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "List live topic clusters",
	RunE:  runTopicList,
}

func init() {
	topicCmd.Flags().StringSliceVar(&topicProjects, "projects", nil, "restrict to these project ids")
}

func runTopicList(cmd *cobra.Command, args []string) error {
	views := app.topics.GetTopics(topic.QueryOptions{ProjectIDs: topicProjects})
	if len(views) == 0 {
		fmt.Println("no topics")
		return nil
	}
	for _, v := range views {
		words := make([]string, len(v.Keywords))
		for i, k := range v.Keywords {
			words[i] = k.Word
		}
		fmt.Printf("%-12s  nodes=%-4d weight=%.3f  %s\n", v.TopicID, v.NodeCount, v.Weight, strings.Join(words, ", "))
	}
	return nil
}
