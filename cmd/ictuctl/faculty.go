package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/ictu-erp-api/internal/models"
	"github.com/noah-isme/ictu-erp-api/internal/repository"
)

func facultyCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faculty",
		Short: "Manage faculties and their coordinators",
	}
	cmd.AddCommand(facultyCreateCmd(e), facultyListCmd(e))
	return cmd
}

func facultyCreateCmd(e *env) *cobra.Command {
	var faculty models.Faculty
	var coordinator string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a faculty",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if coordinator != "" {
				faculty.CoordinatorID = &coordinator
			}
			if err := repository.NewFacultyRepository(db).Create(cmd.Context(), &faculty); err != nil {
				return err
			}
			e.logger.Info("faculty created", zap.String("id", faculty.ID), zap.String("code", faculty.Code))
			fmt.Fprintln(cmd.OutOrStdout(), faculty.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&faculty.Code, "code", "", "short faculty code")
	cmd.Flags().StringVar(&faculty.Name, "name", "", "faculty name")
	cmd.Flags().StringVar(&coordinator, "coordinator", "", "user id of the faculty coordinator")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func facultyListCmd(e *env) *cobra.Command {
	var departments bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List faculties, optionally with their departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := repository.NewFacultyRepository(db)
			faculties, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tNAME\tCOORDINATOR")
			for _, f := range faculties {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Code, f.Name, deref(f.CoordinatorID))
				if !departments {
					continue
				}
				depts, err := repo.ListDepartments(cmd.Context(), f.ID)
				if err != nil {
					return err
				}
				for _, d := range depts {
					fmt.Fprintf(w, "  %s\t\t%s\t%s\n", d.ID, d.Name, deref(d.CoordinatorID))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&departments, "departments", false, "include departments under each faculty")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
