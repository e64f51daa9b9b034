package main

import (
	"github.com/spf13/cobra"

	"github.com/Globator25/Lokaltreu-sub000/internal/migrate"
	"github.com/Globator25/Lokaltreu-sub000/internal/service"
)

func (a *app) adminCmd() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage tenant administrators",
	}

	var tenant, email, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeFn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			svc := service.NewAdminAuthService(st.Admins, nil, nil, nil, 0, nil,
				service.WithClock(a.now), service.WithLogger(a.log))
			adm, err := svc.CreateAdmin(cmd.Context(), tenant, email, password)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]string{
				"admin_id":  adm.ID,
				"tenant_id": adm.TenantID,
				"email":     adm.Email,
			})
		},
	}
	create.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&password, "password", "", "initial password")
	for _, f := range []string{"tenant", "email", "password"} {
		_ = create.MarkFlagRequired(f)
	}
	admin.AddCommand(create)
	return admin
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn := a.env.String("DATABASE_URL", "")
			if err := migrate.Up(cmd.Context(), dsn, a.log); err != nil {
				return err
			}
			v, err := migrate.Version(cmd.Context(), dsn, a.log)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]int64{"version": v})
		},
	}
}
