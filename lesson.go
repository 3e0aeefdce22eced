package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"studyhub/internal/service/study"
)

var lessonCourseID int64
var lessonTitle string

var lessonCmd = &cobra.Command{
	Use:   "lesson",
	Short: "Manage course lessons used as flashcard sources",
}

var lessonAddCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Store the contents of a text or markdown file as a lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read lesson file: %w", err)
		}
		title := lessonTitle
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		lesson, err := study.NewLessons(db).CreateLesson(cmd.Context(), lessonCourseID, title, string(content))
		if err != nil {
			return err
		}
		cmd.Printf("lesson %d created (%s)\n", lesson.ID, lesson.Title)
		return nil
	},
}

var lessonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the lessons of a course",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		lessons, err := study.NewLessons(db).ListLessons(cmd.Context(), lessonCourseID)
		if err != nil {
			return err
		}
		for _, l := range lessons {
			cmd.Printf("%d\t%s\t%d chars\n", l.ID, l.Title, len([]rune(l.Content)))
		}
		return nil
	},
}

func init() {
	lessonCmd.PersistentFlags().Int64Var(&lessonCourseID, "course", 0, "course id")
	lessonAddCmd.Flags().StringVar(&lessonTitle, "title", "", "lesson title (defaults to the file name)")
	lessonCmd.AddCommand(lessonAddCmd, lessonListCmd)
	rootCmd.AddCommand(lessonCmd)
}
