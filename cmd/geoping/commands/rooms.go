package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geoping/geoping/pkg/rooms"
)

var (
	roomSSID    string
	roomCreator bool
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Manage rooms and subscriptions",
	Long: `Manage the local room registry.

A room ties a messaging scope to a Wi-Fi network (its SSID). Rooms
without an SSID are virtual: they are never entered automatically.
Subscribing to a room puts it on the presence monitor's watch list.`,
}

var roomsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openKV()
		if err != nil {
			return err
		}
		defer backend.Close()

		room := rooms.New(args[0], roomSSID)
		room.Creator = roomCreator
		if err := rooms.NewStore(backend).Save(cmd.Context(), room); err != nil {
			return err
		}
		fmt.Printf("Room %q added (%s)\n", room.Name, room.ID)
		return nil
	},
}

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openKV()
		if err != nil {
			return err
		}
		defer backend.Close()

		ctx := cmd.Context()
		store := rooms.NewStore(backend)
		all, err := store.All(ctx)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("No rooms registered")
			return nil
		}

		selected, _ := store.Selected(ctx)
		for _, room := range all {
			marker := "  "
			if room.ID == selected.ID {
				marker = "* "
			}
			sub, err := store.IsSubscribed(ctx, room.ID)
			if err != nil {
				return err
			}
			tag := ""
			if sub {
				tag += " [subscribed]"
			}
			if room.Creator {
				tag += " [creator]"
			}
			network := room.SSID
			if room.Virtual() {
				network = "(virtual)"
			}
			fmt.Printf("%s%-20s %-24s %s%s\n", marker, room.Name, network, room.ID, tag)
		}
		return nil
	},
}

var roomsRemoveCmd = &cobra.Command{
	Use:   "remove <room-id>",
	Short: "Delete a room and its subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openKV()
		if err != nil {
			return err
		}
		defer backend.Close()

		if err := rooms.NewStore(backend).Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Room removed")
		return nil
	},
}

var roomsSubscribeCmd = &cobra.Command{
	Use:   "subscribe <room-id>",
	Short: "Put a room on the presence watch list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openKV()
		if err != nil {
			return err
		}
		defer backend.Close()

		if err := rooms.NewStore(backend).Subscribe(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Subscribed")
		return nil
	},
}

var roomsUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <room-id>",
	Short: "Drop a room from the presence watch list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openKV()
		if err != nil {
			return err
		}
		defer backend.Close()

		if err := rooms.NewStore(backend).Unsubscribe(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Unsubscribed")
		return nil
	},
}

var roomsSelectCmd = &cobra.Command{
	Use:   "select <room-id>",
	Short: "Mark a room as the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openKV()
		if err != nil {
			return err
		}
		defer backend.Close()

		store := rooms.NewStore(backend)
		if err := store.Select(cmd.Context(), args[0]); err != nil {
			return err
		}
		room, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Selected %q\n", room.Name)
		return nil
	},
}

func init() {
	roomsAddCmd.Flags().StringVarP(&roomSSID, "ssid", "s", "", "Wi-Fi network tied to the room (empty: virtual room)")
	roomsAddCmd.Flags().BoolVar(&roomCreator, "creator", false, "mark the room as owned by this user")

	roomsCmd.AddCommand(roomsAddCmd)
	roomsCmd.AddCommand(roomsListCmd)
	roomsCmd.AddCommand(roomsRemoveCmd)
	roomsCmd.AddCommand(roomsSubscribeCmd)
	roomsCmd.AddCommand(roomsUnsubscribeCmd)
	roomsCmd.AddCommand(roomsSelectCmd)
	rootCmd.AddCommand(roomsCmd)
}
