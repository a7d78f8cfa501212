package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/ec-storefront/internal/cart"
)

func (c *cli) cartCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "cart",
		Short:       "Show and change the cart",
		Annotations: map[string]string{annotationSession: "verify"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := c.app.Cart.FetchCart(cmd.Context(), "")
			if err != nil {
				return c.cartFailure(cmd, err, "Could not load the cart")
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			return printCart(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add PRODUCT_ID [QUANTITY]",
			Short: "Add a product",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				qty := 1
				if len(args) == 2 {
					if qty, err = strconv.Atoi(args[1]); err != nil {
						return fmt.Errorf("invalid quantity %q", args[1])
					}
				}
				if err := c.app.Cart.AddItem(cmd.Context(), cart.Product{ID: id}, qty); err != nil {
					return c.cartFailure(cmd, err, "Could not add the product to the cart")
				}
				return printCart(cmd.OutOrStdout(), c.app.Cart.Snapshot())
			},
		},
		&cobra.Command{
			Use:   "remove PRODUCT_ID",
			Short: "Remove a product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if _, err := c.app.Cart.FetchCart(cmd.Context(), ""); err != nil {
					return c.cartFailure(cmd, err, "Could not load the cart")
				}
				if err := c.app.Cart.RemoveItem(cmd.Context(), id); err != nil {
					return c.cartFailure(cmd, err, "Could not remove the product")
				}
				return printCart(cmd.OutOrStdout(), c.app.Cart.Snapshot())
			},
		},
		&cobra.Command{
			Use:   "update PRODUCT_ID QUANTITY",
			Short: "Set the quantity of a product",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				qty, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid quantity %q", args[1])
				}
				if err := c.app.Cart.UpdateQuantity(cmd.Context(), id, qty); err != nil {
					return c.cartFailure(cmd, err, "Could not update the quantity")
				}
				return printCart(cmd.OutOrStdout(), c.app.Cart.Snapshot())
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every product",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := c.app.Cart.FetchCart(cmd.Context(), ""); err != nil {
					return c.cartFailure(cmd, err, "Could not load the cart")
				}
				err := c.app.Cart.ClearCart(cmd.Context())
				var clearErr *cart.ClearError
				if errors.As(err, &clearErr) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Removed %d of %d lines\n", clearErr.Removed, clearErr.Removed+clearErr.Remaining)
				}
				if err != nil {
					return c.cartFailure(cmd, err, "Could not clear the cart")
				}
				return printCart(cmd.OutOrStdout(), c.app.Cart.Snapshot())
			},
		},
	)
	return cmd
}

func (c *cli) promoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "promo",
		Short:       "Promo codes",
		Annotations: map[string]string{annotationSession: "verify"},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "apply CODE",
		Short: "Apply a promo code to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := c.app.Promo.Submit(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[%s] %s\n", c.app.Promo.State(), result.Message)
			if !result.Success {
				return errors.New("promo code rejected")
			}
			if result.Discount.IsPositive() {
				fmt.Fprintf(out, "Discount: %s\n", cart.FormatMAD(result.Discount))
			}
			return printCart(out, c.app.Cart.Snapshot())
		},
	})
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", s)
	}
	return id, nil
}

func printCart(w io.Writer, snap cart.Snapshot) error {
	if snap.IsEmpty() {
		_, err := fmt.Fprintln(w, "Your cart is empty")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tProduct\tQty\tUnit\tTotal\t")
	for _, l := range snap.Items {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t\n", l.ProductID, l.Name, l.Quantity, cart.FormatMAD(l.UnitPrice), cart.FormatMAD(l.LineTotal))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	t := snap.Totals
	fmt.Fprintf(w, "\n%d item(s)\n", snap.ItemCount())
	fmt.Fprintf(w, "Subtotal: %s\n", cart.FormatMAD(t.Subtotal))
	if !t.Discount.IsZero() {
		fmt.Fprintf(w, "Discount: -%s\n", cart.FormatMAD(t.Discount))
	}
	if !t.Tax.IsZero() {
		fmt.Fprintf(w, "Tax:      %s\n", cart.FormatMAD(t.Tax))
	}
	fmt.Fprintf(w, "Total:    %s\n", cart.FormatMAD(t.Total))
	if t.Estimated {
		fmt.Fprintln(w, "(estimated: the server did not return totals)")
	}
	return nil
}
